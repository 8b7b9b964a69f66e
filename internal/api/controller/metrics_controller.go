package controller

import (
	"bytes"
	"net/http"

	"github.com/bassista/go_lanatus/internal/logger"
	"github.com/bassista/go_lanatus/internal/repository"
	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// StatsSource reports repository counters.
type StatsSource interface {
	Stats() repository.Stats
}

// MetricsController renders repository and cache counters in the Prometheus
// text exposition format.
type MetricsController struct {
	source StatsSource
}

func NewMetricsController(source StatsSource) *MetricsController {
	return &MetricsController{source: source}
}

func counter(name, help string, v uint64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: proto.Float64(float64(v))}},
		},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{
			{Gauge: &dto.Gauge{Value: proto.Float64(v)}},
		},
	}
}

// Families converts stats into metric families, in a stable order.
func Families(s repository.Stats) []*dto.MetricFamily {
	return []*dto.MetricFamily{
		counter("lanatus_store_fetches_total", "Records fetched from the store.", s.Fetches),
		counter("lanatus_store_commits_total", "Successful compare-and-write commits.", s.Commits),
		counter("lanatus_store_conflicts_total", "Saves rejected by a concurrent modification.", s.Conflicts),
		counter("lanatus_cache_hits_total", "Lookups answered with a cached record.", s.Cache.Hits),
		counter("lanatus_cache_negative_hits_total", "Lookups answered with a cached absence.", s.Cache.NegativeHits),
		counter("lanatus_cache_misses_total", "Lookups the cache could not answer.", s.Cache.Misses),
		counter("lanatus_cache_expirations_total", "Entries found expired on lookup.", s.Cache.Expirations),
		counter("lanatus_cache_swept_total", "Expired entries removed by the sweeper.", s.Cache.Swept),
		counter("lanatus_cache_resets_total", "Full cache invalidations.", s.Cache.Resets),
		gauge("lanatus_cache_entries", "Entries currently held by the cache.", float64(s.Cache.Entries)),
	}
}

// Metrics handles GET /metrics.
func (mc *MetricsController) Metrics(c *gin.Context) {
	var buf bytes.Buffer
	for _, mf := range Families(mc.source.Stats()) {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			logger.WithComponent("metrics-controller").Errorf("render %s: %v", mf.GetName(), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render metrics"})
			return
		}
	}
	c.Data(http.StatusOK, string(expfmt.NewFormat(expfmt.TypeTextPlain)), buf.Bytes())
}
