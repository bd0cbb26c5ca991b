package api

import (
	"net/http"

	"github.com/QWERTYjc/GradeOS-sub003/internal/boundaries"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/routes"
)

func registerRoutes(mux *http.ServeMux, domain *Domain, runtime *Runtime) {
	guard := runtime.Guard

	routes.Register(
		mux,
		newGradingHandler(domain.Processor, runtime.Storage, runtime.Logger).routes(),
		newStorageHandler(runtime.Storage, runtime.Logger).routes(guard),
		boundaries.NewHandler(runtime.Logger).Routes(),
		domain.Logs.Handler(guard).Routes(),
		domain.Versions.Handler().Routes(),
		domain.Patches.Handler().Routes(),
		domain.Regression.Handler().Routes(),
		domain.Deployments.Handler(guard).Routes(),
		domain.Pipeline.Handler(guard).Routes(),
		domain.Progress.Handler().Routes(),
	)
}
