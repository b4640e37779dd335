package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/blitz/go/internal/config"
	"github.com/mcdev12/blitz/go/internal/gateway"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg *config.Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Register gateway routes (WebSocket, state and health)
	services.Gateway.RegisterRoutes(mux)

	// Wrap with CORS
	handler := gateway.CORSMiddleware(cfg.Server.AllowedOrigins, mux)

	// WebSocket connections are long lived, so no read/write timeouts here;
	// the connection manager applies its own deadlines.
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
