package app

import (
	"net/http"

	"token-broker/internal/server"
)

// Handler returns the status API router
func (app *App) Handler() http.Handler {
	h := server.NewHandlers(app.Registry, app.Version)

	var metricsHandler http.Handler
	if app.Prometheus != nil {
		metricsHandler = app.Prometheus.Handler()
	}
	return h.Router(metricsHandler, app.Config.Metrics.Path)
}

// RunServer creates the status server on the configured address
func (app *App) RunServer(tlsCert, tlsKey string) *server.Server {
	return server.New(app.Handler(), app.Config.Server.Addr, tlsCert, tlsKey)
}
