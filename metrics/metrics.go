package metrics

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const Namespace = "liquidator"

const (
	Heartbeat                = "heartbeat"
	EnqueueLiquidation       = "enqueue_liquidation"
	FetchObligationsDuration = "fetch_obligations_duration"
	ObligationCount          = "obligation_count"
	LiquidateSuccess         = "liquidate_success"
	LiquidateError           = "liquidate_error"
	LiquidateGiveUp          = "liquidate_giveup"
	WalletBalance            = "wallet_balance"
)

type Collector interface {
	Increment(name string, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
}

// Prometheus registers a vector per metric name on first use. The label names of a metric are
// fixed by its first observation; later observations with other labels are dropped.
type Prometheus struct {
	logger   zerolog.Logger
	registry *prometheus.Registry
	lock     sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
}

func NewPrometheus(logger zerolog.Logger) *Prometheus {
	return &Prometheus{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		counters: make(map[string]*prometheus.CounterVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Prometheus) Increment(name string, tags map[string]string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Name: name, Help: name}, labelNames(tags))
		if err := p.registry.Register(vec); err != nil {
			p.logger.Error().Err(err).Str("metric", name).Msg("register counter")
			return
		}
		p.counters[name] = vec
	}
	counter, err := vec.GetMetricWith(tags)
	if err != nil {
		p.logger.Error().Err(err).Str("metric", name).Msg("counter labels")
		return
	}
	counter.Inc()
}

func (p *Prometheus) Gauge(name string, value float64, tags map[string]string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: Namespace, Name: name, Help: name}, labelNames(tags))
		if err := p.registry.Register(vec); err != nil {
			p.logger.Error().Err(err).Str("metric", name).Msg("register gauge")
			return
		}
		p.gauges[name] = vec
	}
	gauge, err := vec.GetMetricWith(tags)
	if err != nil {
		p.logger.Error().Err(err).Str("metric", name).Msg("gauge labels")
		return
	}
	gauge.Set(value)
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on listen until ctx is done.
func (p *Prometheus) Serve(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	server := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdown)
	}()
	p.logger.Info().Str("listen", listen).Msg("serve metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve metrics")
	}
	return nil
}
