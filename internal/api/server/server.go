package server

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
)

// New creates the HTTP server. Write timeout covers the edit call and push retries.
func New(addr string, router *ginext.Engine, writeTimeout time.Duration) *http.Server {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
