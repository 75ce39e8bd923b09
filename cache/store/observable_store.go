package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hatlonely/relx/log"
	"github.com/hatlonely/relx/ref"
)

type ObservableStoreOptions struct {
	// 被包装的底层存储配置
	Store *ref.TypeOptions `cfg:"store" validate:"required"`

	EnableMetrics bool `cfg:"enableMetrics" def:"true"`
	EnableLogging bool `cfg:"enableLogging" def:"false"`
	EnableTracing bool `cfg:"enableTracing" def:"false"`

	// 指标名前缀、日志 component 字段与 span 属性共用的组件名
	Name string `cfg:"name" def:"relx_cache"`
}

// ObservableMetrics 缓存存储的 prometheus 指标
type ObservableMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewObservableMetrics 创建并注册指标，重复注册时复用已有指标
func NewObservableMetrics(name string) *ObservableMetrics {
	metrics := &ObservableMetrics{
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_operations_total",
				Help: "Total number of cache store operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_operation_duration_seconds",
				Help:    "Duration of cache store operations in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
	}

	if err := prometheus.Register(metrics.operationCounter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			metrics.operationCounter = already.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	if err := prometheus.Register(metrics.operationDuration); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			metrics.operationDuration = already.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	return metrics
}

// ObservableStore 装饰任意存储，补上指标、日志与链路追踪
type ObservableStore[K comparable, V any] struct {
	store Store[K, V]

	logger        log.Logger
	metrics       *ObservableMetrics
	tracer        trace.Tracer
	name          string
	enableLogging bool
}

func NewObservableStoreWithOptions[K comparable, V any](options *ObservableStoreOptions) (*ObservableStore[K, V], error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	inner, err := NewStoreWithOptions[K, V](options.Store)
	if err != nil {
		return nil, errors.WithMessage(err, "new underlying store failed")
	}

	name := options.Name
	if name == "" {
		name = "relx_cache"
	}

	obs := &ObservableStore[K, V]{
		store:         inner,
		name:          name,
		enableLogging: options.EnableLogging,
	}
	if options.EnableLogging {
		obs.logger = log.Default().With("component", name)
	}
	if options.EnableMetrics {
		obs.metrics = NewObservableMetrics(name)
	}
	if options.EnableTracing {
		obs.tracer = otel.Tracer(fmt.Sprintf("store.%s", name))
	}
	return obs, nil
}

// observe 统一的操作观测，status 区分 success / miss / error
func (obs *ObservableStore[K, V]) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()

	var span trace.Span
	if obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, fmt.Sprintf("store.%s", operation),
			trace.WithAttributes(
				attribute.String("component", obs.name),
				attribute.String("operation", operation),
			),
		)
		defer span.End()
	}

	err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.metrics != nil {
		status := "success"
		switch {
		case errors.Is(err, ErrKeyNotFound):
			status = "miss"
		case err != nil:
			status = "error"
		}
		obs.metrics.operationCounter.WithLabelValues(operation, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}

	if obs.enableLogging && obs.logger != nil && err != nil && !errors.Is(err, ErrKeyNotFound) {
		obs.logger.ErrorContext(ctx, "store operation failed",
			"operation", operation, "duration_ms", duration.Milliseconds(), "error", err.Error())
	}

	return err
}

func (obs *ObservableStore[K, V]) Set(ctx context.Context, key K, value V, opts ...SetOption) error {
	return obs.observe(ctx, "set", func(ctx context.Context) error {
		return obs.store.Set(ctx, key, value, opts...)
	})
}

func (obs *ObservableStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var value V
	err := obs.observe(ctx, "get", func(ctx context.Context) error {
		var err error
		value, err = obs.store.Get(ctx, key)
		return err
	})
	return value, err
}

func (obs *ObservableStore[K, V]) Del(ctx context.Context, key K) error {
	return obs.observe(ctx, "del", func(ctx context.Context) error {
		return obs.store.Del(ctx, key)
	})
}

func (obs *ObservableStore[K, V]) Close() error {
	return obs.store.Close()
}
