// Package httpserver builds the API server from the server config.
package httpserver

import (
	"net/http"
	"time"

	"gatekeeper/internal/platform/config"
)

const readHeaderTimeout = 5 * time.Second

func New(cfg config.Server, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
