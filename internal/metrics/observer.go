// Package metrics exports acquisition telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datallboy/mediafetch/internal/domain"
)

// Observer records strategy attempts and whole acquisitions. A nil
// *Observer is valid and records nothing.
type Observer struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	acquisitions    *prometheus.CounterVec
	fetchedBytes    *prometheus.CounterVec
	gatherer        prometheus.Gatherer
}

// NewObserver registers the acquisition metrics on reg. Collectors that are
// already registered are reused.
func NewObserver(namespace string, reg *prometheus.Registry) (*Observer, error) {
	if namespace == "" {
		namespace = "mediafetch"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	o := &Observer{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_attempts_total",
			Help:      "Strategy attempts by strategy and result kind.",
		}, []string{"strategy", "result"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "strategy_duration_seconds",
			Help:      "Latency of a single strategy attempt.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"strategy"}),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisitions_total",
			Help:      "Finished acquisitions by media kind and outcome.",
		}, []string{"kind", "outcome"}),
		fetchedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquired_bytes_total",
			Help:      "Payload bytes delivered to the sink, by winning strategy.",
		}, []string{"strategy"}),
		gatherer: reg,
	}

	var err error
	if o.attempts, err = register(reg, o.attempts); err != nil {
		return nil, err
	}
	if o.attemptDuration, err = register(reg, o.attemptDuration); err != nil {
		return nil, err
	}
	if o.acquisitions, err = register(reg, o.acquisitions); err != nil {
		return nil, err
	}
	if o.fetchedBytes, err = register(reg, o.fetchedBytes); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// RecordAttempt tracks one strategy attempt. result is "success" or the error kind.
func (o *Observer) RecordAttempt(strategy string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	result := "success"
	if err != nil {
		result = string(domain.KindOf(err))
	}
	o.attempts.WithLabelValues(strategy, result).Inc()
	o.attemptDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordAcquisition tracks a finished acquisition.
func (o *Observer) RecordAcquisition(kind domain.MediaKind, strategy string, sizeBytes int, err error) {
	if o == nil {
		return
	}
	if err != nil {
		o.acquisitions.WithLabelValues(string(kind), string(domain.KindOf(err))).Inc()
		return
	}
	o.acquisitions.WithLabelValues(string(kind), "success").Inc()
	o.fetchedBytes.WithLabelValues(strategy).Add(float64(sizeBytes))
}

// Handler serves the registry in the Prometheus exposition format.
func (o *Observer) Handler() http.Handler {
	if o == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{})
}
