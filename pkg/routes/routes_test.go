package routes_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/routes"
)

func ok(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func deny(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()

	routes.Register(mux, routes.Group{
		Prefix: "/logs",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: ok},
			{Method: "GET", Pattern: "/{id}", Handler: ok},
		},
		Children: []routes.Group{
			{
				Prefix:     "/{id}",
				Middleware: []func(http.Handler) http.Handler{deny},
				Routes: []routes.Route{
					{Method: "POST", Pattern: "/override", Handler: ok},
				},
			},
		},
	})

	tests := []struct {
		name   string
		method string
		path   string
		auth   bool
		want   int
	}{
		{"list", "GET", "/logs", false, http.StatusOK},
		{"find", "GET", "/logs/abc", false, http.StatusOK},
		{"override without auth", "POST", "/logs/abc/override", false, http.StatusUnauthorized},
		{"override with auth", "POST", "/logs/abc/override", true, http.StatusOK},
		{"wrong method", "DELETE", "/logs/abc", false, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth {
				req.Header.Set("Authorization", "Bearer x")
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status: got %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
