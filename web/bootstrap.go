package web

import (
	"museum-guide/config"
	"museum-guide/guide"
	"museum-guide/llmclient"
	"museum-guide/metrics"
	"museum-guide/rag"

	"go.uber.org/zap"
)

// NewFromConfig loads the catalog and wires the model client, pipeline and
// HTTP server. A catalog that fails to load leaves the service running
// with an empty index.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	catalog, err := rag.LoadCatalog(cfg.CatalogPath, logger)
	if err != nil {
		logger.Warn("Catalog unavailable, grounding disabled",
			zap.String("path", cfg.CatalogPath), zap.Error(err))
	}

	m := metrics.New()
	client := llmclient.New(cfg, logger).WithMetrics(m)
	if !client.Configured() {
		logger.Warn("AI_API_KEY is not set; chat endpoints will report not configured")
	}

	service := guide.NewService(cfg, catalog, client, logger, m)
	return NewServer(service, logger, cfg, m)
}
