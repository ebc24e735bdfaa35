// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	healthfeature "github.com/dalemusser/identityindex/internal/app/features/health"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the probe router served when serve_probes is set.
//
//   - /health  Mongo ping
//   - /indexes report of the index run
//
// Both endpoints are read-only.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, probes *healthfeature.Handler, logger *zap.Logger) (http.Handler, error) {
	r := chi.NewRouter()

	r.Mount("/health", healthfeature.Routes(probes))
	r.Mount("/indexes", healthfeature.IndexRoutes(probes))

	return r, nil
}
