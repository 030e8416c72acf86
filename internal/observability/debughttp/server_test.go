package debughttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "chanwatch/pkg/logx"
)

func TestCheckConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "disabled", cfg: Config{}, ok: true},
		{name: "loopback", cfg: Config{Addr: "127.0.0.1:6060"}, ok: true},
		{name: "localhost", cfg: Config{Addr: "localhost:6060"}, ok: true},
		{name: "public without token", cfg: Config{Addr: ":6060"}},
		{name: "public with token", cfg: Config{Addr: "0.0.0.0:6060", Token: "s3cret"}, ok: true},
		{name: "no port", cfg: Config{Addr: "127.0.0.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := CheckConfig(tt.cfg); (err == nil) != tt.ok {
				t.Fatalf("CheckConfig(%+v) = %v, want ok=%v", tt.cfg, err, tt.ok)
			}
		})
	}
}

func TestStatusRequiresToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0", Token: "s3cret"}, func() any {
		return map[string]any{"state": "sleeping", "rounds": 3}
	}, logx.Nop())
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without token: code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token: code = %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["state"] != "sleeping" || got["rounds"] != float64(3) {
		t.Fatalf("status = %v", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?token=s3cret", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("query token: code = %d", rec.Code)
	}
}

func TestHealthzIsOpen(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "x"}, nil, logx.Nop()).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}
