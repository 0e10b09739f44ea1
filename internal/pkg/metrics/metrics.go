package metrics

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 操作结果标签
const (
	OutcomeSuccess  = "success"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Observer 记录购买、取消、调整等账本操作的指标，nil 接收者安全
type Observer struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	credits    *prometheus.CounterVec
	swept      *prometheus.CounterVec
}

// NewObserver 注册指标，重复注册时复用已存在的采集器
func NewObserver(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "promo_credit"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of ledger operations including lock wait.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_total",
			Help:      "Absolute credits moved through the ledger by kind and direction.",
		}, []string{"kind", "direction"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_swept_total",
			Help:      "Promotions transitioned by the lifecycle sweeper.",
		}, []string{"transition"}),
	}

	if err := register(reg, &o.operations); err != nil {
		return nil, err
	}
	if err := register(reg, &o.duration); err != nil {
		return nil, err
	}
	if err := register(reg, &o.credits); err != nil {
		return nil, err
	}
	if err := register(reg, &o.swept); err != nil {
		return nil, err
	}
	return o, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				*c = existing
				return nil
			}
		}
		return fmt.Errorf("register ledger metric: %w", err)
	}
	return nil
}

// RecordOperation 记录一次操作的耗时与结果
func (o *Observer) RecordOperation(operation, outcome string, duration time.Duration) {
	if o == nil {
		return
	}
	o.operations.WithLabelValues(operation, outcome).Inc()
	o.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCredits 记录入账或扣减的积分数
func (o *Observer) RecordCredits(kind string, amount int64) {
	if o == nil || amount == 0 {
		return
	}
	direction := "credit"
	if amount < 0 {
		direction = "debit"
	}
	o.credits.WithLabelValues(kind, direction).Add(math.Abs(float64(amount)))
}

// RecordSweep 记录定时任务迁移的推广数量
func (o *Observer) RecordSweep(transition string, count int64) {
	if o == nil || count <= 0 {
		return
	}
	o.swept.WithLabelValues(transition).Add(float64(count))
}
