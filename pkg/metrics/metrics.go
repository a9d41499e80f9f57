// Package metrics provides the RED-style instrumentation hooks shared by
// pkg/policylog and pkg/policyengine, trimmed to just the otel/metric API
// surface: this package never stands up an SDK MeterProvider, tracer, or
// OTLP exporter itself, since wiring an exporter is an external
// collaborator's concern (the embedding process decides where metrics
// go). Callers pass in a metric.Meter of their choosing; a no-op meter is
// used when none is supplied, so the governance core never requires
// telemetry infrastructure to function.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Hooks bundles the counters and histograms recorded across the
// append/verify/evaluate paths.
type Hooks struct {
	appendCount    metric.Int64Counter
	appendLatency  metric.Float64Histogram
	totalSeals     metric.Int64UpDownCounter
	chainCacheHit  metric.Int64Counter
	chainCacheMiss metric.Int64Counter
	evalCacheHit   metric.Int64Counter
	evalCacheMiss  metric.Int64Counter

	lastSealTotal int64
}

// New builds Hooks from meter. A nil meter falls back to the OpenTelemetry
// no-op implementation, so callers that don't care about metrics never pay
// for them and never need a live SDK to construct a PolicyLog or
// PolicyEngine.
func New(meter metric.Meter) (*Hooks, error) {
	if meter == nil {
		meter = noop.Meter{}
	}
	var h Hooks
	var err error

	h.appendCount, err = meter.Int64Counter("policygov.append.total",
		metric.WithDescription("Total number of PolicyLog.Append calls"),
		metric.WithUnit("{append}"))
	if err != nil {
		return nil, err
	}
	h.appendLatency, err = meter.Float64Histogram("policygov.append.duration",
		metric.WithDescription("PolicyLog.Append latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	h.totalSeals, err = meter.Int64UpDownCounter("policygov.seals.total",
		metric.WithDescription("Current number of seals in the ledger"),
		metric.WithUnit("{seal}"))
	if err != nil {
		return nil, err
	}
	h.chainCacheHit, err = meter.Int64Counter("policygov.chain_verify_cache.hit",
		metric.WithDescription("VerifyChain calls served from the cached memo"))
	if err != nil {
		return nil, err
	}
	h.chainCacheMiss, err = meter.Int64Counter("policygov.chain_verify_cache.miss",
		metric.WithDescription("VerifyChain calls that walked the full chain"))
	if err != nil {
		return nil, err
	}
	h.evalCacheHit, err = meter.Int64Counter("policygov.eval_cache.hit",
		metric.WithDescription("Policy evaluation cache hits"))
	if err != nil {
		return nil, err
	}
	h.evalCacheMiss, err = meter.Int64Counter("policygov.eval_cache.miss",
		metric.WithDescription("Policy evaluation cache misses"))
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// RecordAppend records one append call's latency and bumps the seal gauge
// to newTotal.
func (h *Hooks) RecordAppend(ctx context.Context, latencySeconds float64, newTotal int64) {
	if h == nil {
		return
	}
	h.appendCount.Add(ctx, 1)
	h.appendLatency.Record(ctx, latencySeconds)
	h.totalSeals.Add(ctx, newTotal-h.lastTotal())
	h.setLastTotal(newTotal)
}

// lastTotal/setLastTotal track the previous gauge value so RecordAppend can
// report a delta to the UpDownCounter. RecordAppend is always called from
// PolicyLog's write lock, so a plain field needs no additional locking here.
func (h *Hooks) lastTotal() int64 {
	return h.lastSealTotal
}

func (h *Hooks) setLastTotal(v int64) {
	h.lastSealTotal = v
}

// RecordChainVerifyCacheHit/Miss instrument VerifyChain's cache memo.
func (h *Hooks) RecordChainVerifyCacheHit(ctx context.Context) {
	if h == nil {
		return
	}
	h.chainCacheHit.Add(ctx, 1)
}

func (h *Hooks) RecordChainVerifyCacheMiss(ctx context.Context) {
	if h == nil {
		return
	}
	h.chainCacheMiss.Add(ctx, 1)
}

// RecordEvalCacheHit/Miss instrument PolicyEngine's evaluation cache.
func (h *Hooks) RecordEvalCacheHit(ctx context.Context) {
	if h == nil {
		return
	}
	h.evalCacheHit.Add(ctx, 1)
}

func (h *Hooks) RecordEvalCacheMiss(ctx context.Context) {
	if h == nil {
		return
	}
	h.evalCacheMiss.Add(ctx, 1)
}
