package security

import (
	"errors"
	"strings"
	"testing"
)

func TestPayloadLimits_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		limits  PayloadLimits
		data    string
		wantErr error
	}{
		{name: "flat object", data: `{"message":"hello"}`},
		{name: "empty", data: ``},
		{name: "at size limit", limits: PayloadLimits{MaxBytes: 4}, data: `[1,2]`[:4]},
		{name: "over size limit", limits: PayloadLimits{MaxBytes: 4}, data: `[1,2]`, wantErr: ErrPayloadTooLarge},
		{name: "nested within limit", limits: PayloadLimits{MaxDepth: 3}, data: `{"a":{"b":[1]}}`},
		{name: "nested over limit", limits: PayloadLimits{MaxDepth: 2}, data: `{"a":{"b":[1]}}`, wantErr: ErrPayloadTooDeep},
		{name: "brackets inside strings", limits: PayloadLimits{MaxDepth: 1}, data: `{"text":"[[[{{{"}`},
		{name: "escaped quote in string", limits: PayloadLimits{MaxDepth: 1}, data: `{"text":"say \"[[\" now"}`},
		{name: "default depth", data: strings.Repeat("[", DefaultMaxPayloadDepth+1), wantErr: ErrPayloadTooDeep},
		{name: "unbalanced close", data: `{}]`, wantErr: ErrPayloadInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.limits.Check([]byte(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Check(%q) = %v, want %v", tt.data, err, tt.wantErr)
			}
		})
	}
}

func TestPayloadLimits_Decode(t *testing.T) {
	t.Parallel()

	var v struct {
		Message string `json:"message"`
	}
	if err := (PayloadLimits{}).Decode([]byte(`{"message":"what did we decide?"}`), &v); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Message != "what did we decide?" {
		t.Errorf("message = %q", v.Message)
	}

	if err := (PayloadLimits{}).Decode([]byte(`{"message":`), &v); !errors.Is(err, ErrPayloadInvalid) {
		t.Errorf("truncated document: err = %v, want ErrPayloadInvalid", err)
	}
	if err := (PayloadLimits{}).Decode(nil, &v); !errors.Is(err, ErrPayloadInvalid) {
		t.Errorf("empty document: err = %v, want ErrPayloadInvalid", err)
	}
	deep := strings.Repeat(`{"a":`, 40) + "1" + strings.Repeat("}", 40)
	if err := (PayloadLimits{}).Decode([]byte(deep), &v); !errors.Is(err, ErrPayloadTooDeep) {
		t.Errorf("deep document: err = %v, want ErrPayloadTooDeep", err)
	}
}

func FuzzCheckNesting(f *testing.F) {
	f.Add([]byte(`{"a":[1,{"b":"]"}]}`))
	f.Add([]byte(`"\\"`))
	f.Add([]byte(`]]]`))
	f.Fuzz(func(t *testing.T, data []byte) {
		_ = PayloadLimits{MaxDepth: 4}.Check(data)
	})
}

func BenchmarkPayloadLimits_Check(b *testing.B) {
	data := []byte(`{"message":"` + strings.Repeat("remember the deploy plan ", 200) + `","meta":{"tags":["a","b"]}}`)
	for b.Loop() {
		_ = PayloadLimits{}.Check(data)
	}
}
