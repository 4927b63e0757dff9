// Package edge adapts the guide API to request-scoped platforms that invoke
// a plain http.HandlerFunc per request.
package edge

import (
	"net/http"
	"sync"

	"museum-guide/config"
	"museum-guide/web"

	"go.uber.org/zap"
)

var (
	initOnce sync.Once
	handler  http.Handler
	initErr  error
)

func setup() {
	logger, err := config.InitJSONLogger("info")
	if err != nil {
		logger = zap.NewNop()
	}
	cfg := config.Load(logger)
	if lvl, err := config.InitJSONLogger(cfg.LogLevel); err == nil {
		logger = lvl
	}

	server, err := web.NewFromConfig(cfg, logger)
	if err != nil {
		initErr = err
		logger.Error("Edge handler initialization failed", zap.Error(err))
		return
	}
	handler = server.Handler()
}

// Handler serves one request, building the shared engine on first use.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(setup)
	if initErr != nil || handler == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"service unavailable"}`))
		return
	}
	handler.ServeHTTP(w, r)
}
