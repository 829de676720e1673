package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled", cfg: Config{}},
		{name: "valid", cfg: Config{Enabled: true, Endpoint: "localhost:4318", SampleRate: 0.5}},
		{name: "no_endpoint", cfg: Config{Enabled: true}, wantErr: true},
		{name: "bad_rate", cfg: Config{Enabled: true, Endpoint: "x", SampleRate: 2}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Endpoint: "collector:4318"}, "https://collector:4318"},
		{Config{Endpoint: "collector:4318", Insecure: true}, "http://collector:4318"},
		{Config{Endpoint: " http://c:4318/v1/traces "}, "http://c:4318/v1/traces"},
	}
	for _, tt := range tests {
		if got := normalizeEndpoint(tt.cfg); got != tt.want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", tt.cfg.Endpoint, got, tt.want)
		}
	}
}

func TestSelectSampler(t *testing.T) {
	t.Parallel()

	if got := selectSampler(Config{Sampler: "ALWAYS_ON"}).Description(); got != sdktrace.AlwaysSample().Description() {
		t.Errorf("always_on sampler = %s", got)
	}
	if got := selectSampler(Config{Sampler: SamplerAlwaysOff}).Description(); got != sdktrace.NeverSample().Description() {
		t.Errorf("always_off sampler = %s", got)
	}
}

// failingExporter always fails to export.
type failingExporter struct{ tracetest.InMemoryExporter }

func (*failingExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	return errors.New("collector down")
}

func TestIsolatingExporter_SwallowsErrors(t *testing.T) {
	t.Parallel()

	exp := &isolatingExporter{
		exporter: &failingExporter{},
		endpoint: "x",
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err := exp.ExportSpans(t.Context(), nil); err != nil {
		t.Errorf("ExportSpans = %v, want nil", err)
	}
}
