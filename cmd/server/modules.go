package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/QWERTYjc/GradeOS-sub003/internal/api"
	"github.com/QWERTYjc/GradeOS-sub003/internal/config"
	"github.com/QWERTYjc/GradeOS-sub003/internal/infrastructure"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/lifecycle"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/module"
)

type Modules struct {
	API *api.API
}

func NewModules(infra *infrastructure.Infrastructure, cfg *config.Config) *Modules {
	return &Modules{API: api.New(cfg, infra)}
}

func (m *Modules) Start() error {
	return m.API.Start()
}

func (m *Modules) Mount(router *module.Router) {
	router.Mount(m.API.Module)
}

func buildRouter(infra *infrastructure.Infrastructure, modules *Modules) *module.Router {
	router := module.NewRouter()

	checks := []lifecycle.ReadinessChecker{infra.Lifecycle, infra, modules.API}

	router.Handle("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	}))

	router.Handle("GET /readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, c := range checks {
			if !c.Ready() {
				writeStatus(w, http.StatusServiceUnavailable, "not ready")
				return
			}
		}
		writeStatus(w, http.StatusOK, "ready")
	}))

	router.Handle("GET /metrics", promhttp.Handler())

	modules.Mount(router)
	return router
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
