// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Service struct {
	registry *prometheus.Registry

	msgCount    *prometheus.CounterVec
	msgDuration *prometheus.HistogramVec

	sessions        prometheus.Gauge
	sessionDuration prometheus.Histogram

	usageBytes *prometheus.CounterVec
}

func NewPrometheusService() (*Service, error) {
	reg := prometheus.NewRegistry()

	msgCount := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "session_messages_total",
		Help: "Counter for messages exchanged with the policy/charging controller",
	}, []string{"message_type", "direction", "result"})

	msgDuration := promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "session_messages_duration_seconds",
		Help:    "The latency of controller requests",
		Buckets: []float64{1e-4, 1e-3, 1e-2, 1e-1, 1, 1e1},
	}, []string{"message_type", "direction"})

	sessions := promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "subscriber_sessions",
		Help: "Number of subscriber sessions currently enforced",
	})

	sessionDuration := promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
		Name: "subscriber_session_duration_seconds",
		Help: "The lifetime of a subscriber session",
		Buckets: []float64{
			1 * time.Minute.Seconds(),
			10 * time.Minute.Seconds(),
			30 * time.Minute.Seconds(),

			1 * time.Hour.Seconds(),
			6 * time.Hour.Seconds(),
			12 * time.Hour.Seconds(),
			24 * time.Hour.Seconds(),

			7 * 24 * time.Hour.Seconds(),
		},
	})

	usageBytes := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "ue_reported_usage_bytes_total",
		Help: "Traffic volume reported by the pipeline per direction",
	}, []string{"direction"})

	s := &Service{
		registry: reg,

		msgCount:    msgCount,
		msgDuration: msgDuration,

		sessions:        sessions,
		sessionDuration: sessionDuration,

		usageBytes: usageBytes,
	}

	return s, nil
}

// Handler serves the service's registry, for mounting under /metrics.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Service) SaveMessages(msg *Message) {
	s.msgCount.WithLabelValues(msg.MsgType, msg.Direction, msg.Result).Inc()
	s.msgDuration.WithLabelValues(msg.MsgType, msg.Direction).Observe(msg.Duration)
}

func (s *Service) SaveSessions(sess *Session) {
	if sess.Duration == 0 {
		s.sessions.Inc()
		return
	}

	s.sessions.Dec()
	s.sessionDuration.Observe(sess.Duration)
}

func (s *Service) SaveUsage(u *UsageSample) {
	s.usageBytes.WithLabelValues(u.Direction).Add(float64(u.Bytes))
}

func (s *Service) Stop() error {
	s.registry.Unregister(s.msgCount)
	s.registry.Unregister(s.msgDuration)
	s.registry.Unregister(s.sessions)
	s.registry.Unregister(s.sessionDuration)
	s.registry.Unregister(s.usageBytes)

	return nil
}
