package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flemzord/memoir/internal/security"
)

func authGateway(auth AuthConfig, audit *security.AuditLogger, limiter *security.RateLimiter) http.Handler {
	g := &Gateway{config: Config{Auth: auth}, audit: audit, limiter: limiter}
	return g.authenticate(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	both := AuthConfig{BearerToken: "tok-0123456789", BasicUser: "host", BasicPass: "pw-0123456789"}
	tests := []struct {
		name string
		cfg  AuthConfig
		set  func(r *http.Request)
		want int
	}{
		{"bearer", AuthConfig{BearerToken: "tok-0123456789"}, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer tok-0123456789")
		}, http.StatusNoContent},
		{"wrong bearer", AuthConfig{BearerToken: "tok-0123456789"}, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer tok-9876543210")
		}, http.StatusUnauthorized},
		{"lowercase scheme", AuthConfig{BearerToken: "tok-0123456789"}, func(r *http.Request) {
			r.Header.Set("Authorization", "bearer tok-0123456789")
		}, http.StatusUnauthorized},
		{"basic", AuthConfig{BasicUser: "host", BasicPass: "pw-0123456789"}, func(r *http.Request) {
			r.SetBasicAuth("host", "pw-0123456789")
		}, http.StatusNoContent},
		{"wrong basic", AuthConfig{BasicUser: "host", BasicPass: "pw-0123456789"}, func(r *http.Request) {
			r.SetBasicAuth("host", "nope")
		}, http.StatusUnauthorized},
		{"basic when only bearer is configured", AuthConfig{BearerToken: "tok-0123456789"}, func(r *http.Request) {
			r.SetBasicAuth("host", "tok-0123456789")
		}, http.StatusUnauthorized},
		{"either scheme: bearer", both, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer tok-0123456789")
		}, http.StatusNoContent},
		{"either scheme: basic", both, func(r *http.Request) {
			r.SetBasicAuth("host", "pw-0123456789")
		}, http.StatusNoContent},
		{"no header", both, func(*http.Request) {}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var events []security.AuditEvent
			audit := security.NewAuditLogger(security.AuditLoggerConfig{
				Writer:  io.Discard,
				OnEvent: func(e security.AuditEvent) { events = append(events, e) },
			})

			req := httptest.NewRequest(http.MethodPost, "/api/pre-turn", nil)
			tt.set(req)
			rr := httptest.NewRecorder()
			authGateway(tt.cfg, audit, nil).ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			wantType := security.EventAuthFailure
			if tt.want == http.StatusNoContent {
				wantType = security.EventAuthSuccess
			}
			if len(events) != 1 || events[0].Type != wantType || events[0].Surface != security.SurfaceGateway {
				t.Errorf("events = %+v, want one %s", events, wantType)
			}
		})
	}
}

func TestAuthConfig_IsConfigured(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cfg  AuthConfig
		want bool
	}{
		"empty":         {AuthConfig{}, false},
		"bearer":        {AuthConfig{BearerToken: "t"}, true},
		"basic":         {AuthConfig{BasicUser: "u", BasicPass: "p"}, true},
		"user only":     {AuthConfig{BasicUser: "u"}, false},
		"password only": {AuthConfig{BasicPass: "p"}, false},
	}
	for name, tt := range tests {
		if got := tt.cfg.IsConfigured(); got != tt.want {
			t.Errorf("%s: IsConfigured() = %v, want %v", name, got, tt.want)
		}
	}
}

func TestAuthenticate_RateLimitedPerHost(t *testing.T) {
	t.Parallel()

	var limited []security.AuditEvent
	audit := security.NewAuditLogger(security.AuditLoggerConfig{
		Writer: io.Discard,
		OnEvent: func(e security.AuditEvent) {
			if e.Type == security.EventRateLimit {
				limited = append(limited, e)
			}
		},
	})
	limiter := security.NewRateLimiter(security.RateLimitConfig{AuthPerMinute: 2})
	h := authGateway(AuthConfig{BearerToken: "tok-0123456789"}, audit, limiter)

	attempt := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.RemoteAddr = remote
		req.Header.Set("Authorization", "Bearer guess")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	steps := []struct {
		remote string
		want   int
	}{
		{"10.0.0.1:4000", http.StatusUnauthorized},
		{"10.0.0.1:4000", http.StatusUnauthorized},
		{"10.0.0.1:4001", http.StatusTooManyRequests},
		{"10.0.0.2:4000", http.StatusUnauthorized},
	}
	for i, s := range steps {
		if got := attempt(s.remote); got != s.want {
			t.Errorf("attempt %d from %s: status = %d, want %d", i, s.remote, got, s.want)
		}
	}
	if len(limited) != 1 || limited[0].Remote != "10.0.0.1:4001" {
		t.Errorf("rate limit events = %+v", limited)
	}
}

func TestClientKey(t *testing.T) {
	t.Parallel()

	for remote, want := range map[string]string{
		"10.0.0.1:4000": "10.0.0.1",
		"[::1]:80":      "::1",
		"pipe":          "pipe",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if got := clientKey(req); got != want {
			t.Errorf("clientKey(%q) = %q, want %q", remote, got, want)
		}
	}
}
