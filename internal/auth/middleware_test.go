package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequireScope(t *testing.T) {
	secret := []byte("test-secret")
	admin, err := Issue(secret, "ops", []string{ScopeAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	reader, err := Issue(secret, "viewer", nil, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name   string
		secret []byte
		header string
		want   int
	}{
		{name: "no secret admits everyone", secret: nil, want: http.StatusOK},
		{name: "missing token", secret: secret, want: http.StatusUnauthorized},
		{name: "garbage token", secret: secret, header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong scheme", secret: secret, header: "Basic " + admin, want: http.StatusUnauthorized},
		{name: "missing scope", secret: secret, header: "Bearer " + reader, want: http.StatusForbidden},
		{name: "admin token", secret: secret, header: "Bearer " + admin, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.secret != nil {
					if _, ok := ClaimsFromContext(r.Context()); !ok {
						t.Fatalf("expected claims in context")
					}
				}
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/calendar/2024-08-24", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			RequireScope(tt.secret, ScopeAdmin)(next).ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d body=%s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}
