package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/osvaldoandrade/fpilot/pkg/domain"
)

// Key names mirror pkg/persistence/redis; the collector only reads them.
const (
	keyStrategies = "fpilot:strategies"
	keyRuns       = "fpilot:runs"
)

func keyRunsStatus(status domain.RunStatus) string {
	return "fpilot:runs:status:" + string(status)
}

var runStatuses = []domain.RunStatus{domain.RunPending, domain.RunRunning, domain.RunSucceeded, domain.RunFailed}

type redisCollector struct {
	rdb    *redis.Client
	logger *slog.Logger

	strategiesDesc *prometheus.Desc
	runsDesc       *prometheus.Desc
	runsTotalDesc  *prometheus.Desc
}

func newRedisCollector(rdb *redis.Client, logger *slog.Logger) *redisCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisCollector{
		rdb:    rdb,
		logger: logger,
		strategiesDesc: prometheus.NewDesc(
			"fpilot_strategies_stored",
			"Current number of stored strategies.",
			nil,
			nil,
		),
		runsDesc: prometheus.NewDesc(
			"fpilot_runs_stored",
			"Current number of run history records by status.",
			[]string{"status"},
			nil,
		),
		runsTotalDesc: prometheus.NewDesc(
			"fpilot_runs_stored_total",
			"Current number of run history records.",
			nil,
			nil,
		),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.strategiesDesc
	ch <- c.runsDesc
	ch <- c.runsTotalDesc
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := c.rdb.Pipeline()
	strategies := pipe.HLen(ctx, keyStrategies)
	runs := pipe.HLen(ctx, keyRuns)
	byStatus := make(map[domain.RunStatus]*redis.IntCmd, len(runStatuses))
	for _, st := range runStatuses {
		byStatus[st] = pipe.SCard(ctx, keyRunsStatus(st))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		return
	}

	emitGauge(ch, c.strategiesDesc, float64(strategies.Val()))
	emitGauge(ch, c.runsTotalDesc, float64(runs.Val()))
	for _, st := range runStatuses {
		emitGauge(ch, c.runsDesc, float64(byStatus[st].Val()), string(st))
	}
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerRedisCollectorOnce sync.Once

func RegisterRedisCollector(rdb *redis.Client, logger *slog.Logger) {
	registerRedisCollectorOnce.Do(func() {
		prometheus.MustRegister(newRedisCollector(rdb, logger))
	})
}
