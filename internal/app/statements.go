package app

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ledger/internal/statements"
)

// NewStatementsService wires the report service shared by the API and the
// worker. A nil redis client or a zero REPORT_CACHE_TTL disables caching.
func NewStatementsService(cfg *Config, source statements.Source, client *redis.Client, reg prometheus.Registerer, logger *slog.Logger) (*statements.Service, *statements.Cache, error) {
	layouts, err := reports.LoadLayoutFile(cfg.ReportLayoutFile)
	if err != nil {
		return nil, nil, fmt.Errorf("report layouts: %w", err)
	}
	if err := statements.SetupMetrics(reg); err != nil {
		return nil, nil, fmt.Errorf("statement metrics: %w", err)
	}
	var cache *statements.Cache
	if client != nil && cfg.ReportCacheTTL > 0 {
		cache = statements.NewCache(client, cfg.ReportCacheTTL)
	}
	svc := statements.NewService(source, cache, layouts, cfg.Currency(), logger, statements.WithBuildTimeout(cfg.AppRequestTimeout))
	return svc, cache, nil
}
