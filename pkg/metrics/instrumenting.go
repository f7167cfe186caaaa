package metrics

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.opentelemetry.io/otel/metric/unit"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/aggregation"
)

// BaseAttrs contains attributes that should be added in all exported metrics.
var BaseAttrs []attribute.KeyValue

// SetupInstrumentation installs the Prometheus exporter as the global meter
// provider and serves it at prometheusAddr under /metrics.
// An empty address installs the exporter without serving it.
func SetupInstrumentation(prometheusAddr, serviceName, version string) (*http.Server, error) {
	BaseAttrs = []attribute.KeyValue{
		attribute.String("service_name", serviceName),
		attribute.String("service_version", version),
	}

	exporter, err := otelprom.New(otelprom.WithAggregationSelector(aggregatorSelector))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %s", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	global.SetMeterProvider(provider)

	if err := startCollectingProcessMetrics(); err != nil {
		return nil, fmt.Errorf("start collecting process metrics: %s", err)
	}

	if prometheusAddr == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              prometheusAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", prometheusAddr).Msg("serving metrics")
		}
	}()

	return server, nil
}

// processGauge is a runtime value exported as an observable gauge.
type processGauge struct {
	name        string
	description string
	unit        unit.Unit
	read        func(ms *runtime.MemStats, uptime time.Duration) int64
}

var processGauges = []processGauge{
	{
		name:        "process.runtime.uptime",
		description: "Milliseconds since application was initialized",
		unit:        unit.Milliseconds,
		read:        func(_ *runtime.MemStats, uptime time.Duration) int64 { return uptime.Milliseconds() },
	},
	{
		name:        "process.runtime.go.goroutines",
		description: "Number of goroutines that currently exist",
		unit:        unit.Dimensionless,
		read:        func(*runtime.MemStats, time.Duration) int64 { return int64(runtime.NumGoroutine()) },
	},
	{
		name:        "process.runtime.go.mem.heap_inuse",
		description: "Bytes in in-use spans",
		unit:        unit.Bytes,
		read:        func(ms *runtime.MemStats, _ time.Duration) int64 { return int64(ms.HeapInuse) },
	},
	{
		name:        "process.runtime.go.mem.live_objects",
		description: "Number of live objects is the number of cumulative Mallocs - Frees",
		unit:        unit.Dimensionless,
		read:        func(ms *runtime.MemStats, _ time.Duration) int64 { return int64(ms.Mallocs - ms.Frees) },
	},
	{
		name:        "process.runtime.go.gc.count",
		description: "Number of completed garbage collection cycles",
		unit:        unit.Dimensionless,
		read:        func(ms *runtime.MemStats, _ time.Duration) int64 { return int64(ms.NumGC) },
	},
}

// memStatsInterval bounds how often the runtime is stopped to read memory stats.
const memStatsInterval = 15 * time.Second

func startCollectingProcessMetrics() error {
	meter := global.MeterProvider().Meter("runtime")

	gauges := make([]instrument.Int64ObservableGauge, len(processGauges))
	observables := make([]instrument.Asynchronous, len(processGauges))
	for i, pg := range processGauges {
		g, err := meter.Int64ObservableGauge(pg.name,
			instrument.WithUnit(string(pg.unit)),
			instrument.WithDescription(pg.description),
		)
		if err != nil {
			return fmt.Errorf("creating %s: %s", pg.name, err)
		}
		gauges[i], observables[i] = g, g
	}

	var (
		startTime    = time.Now()
		mu           sync.Mutex
		lastMemStats time.Time
		memStats     runtime.MemStats
	)
	if _, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if now.Sub(lastMemStats) >= memStatsInterval {
			runtime.ReadMemStats(&memStats)
			lastMemStats = now
		}
		for i, pg := range processGauges {
			o.ObserveInt64(gauges[i], pg.read(&memStats, now.Sub(startTime)), BaseAttrs...)
		}
		return nil
	}, observables...); err != nil {
		return fmt.Errorf("registering callback: %s", err)
	}
	return nil
}

// aggregatorSelector uses millisecond oriented buckets for histograms, which
// fit both storage calls and event processing latencies.
func aggregatorSelector(ik sdkmetric.InstrumentKind) aggregation.Aggregation {
	switch ik {
	case sdkmetric.InstrumentKindCounter, sdkmetric.InstrumentKindUpDownCounter,
		sdkmetric.InstrumentKindObservableCounter, sdkmetric.InstrumentKindObservableUpDownCounter:
		return aggregation.Sum{}
	case sdkmetric.InstrumentKindObservableGauge:
		return aggregation.LastValue{}
	case sdkmetric.InstrumentKindHistogram:
		return aggregation.ExplicitBucketHistogram{
			Boundaries: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}
	}
	panic("unknown instrument kind")
}
