// Copyright 2026 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package async

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Akanyi/clog/common/errors"
)

// Metrics holds the Prometheus collectors updated by Queues.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Enqueued prometheus.Counter
	Dropped  *prometheus.CounterVec
	Retries  prometheus.Counter
	Failed   prometheus.Counter
	Depth    prometheus.Gauge
}

// NewMetrics creates Queue metrics and registers them with reg, unless reg is
// nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clog",
			Subsystem: "async",
			Name:      "records_enqueued_total",
			Help:      "Records accepted by Append.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clog",
			Subsystem: "async",
			Name:      "records_dropped_total",
			Help:      "Records discarded because the queue was full, by overflow policy.",
		}, []string{"policy"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clog",
			Subsystem: "async",
			Name:      "append_retries_total",
			Help:      "Appends retried after a transient failure.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clog",
			Subsystem: "async",
			Name:      "records_failed_total",
			Help:      "Records which could not be appended and were handed to ErrorFn.",
		}),
		Depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clog",
			Subsystem: "async",
			Name:      "queue_depth",
			Help:      "Records waiting in the queue.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.Enqueued, m.Dropped, m.Retries, m.Failed, m.Depth} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Annotate(err, "registering async metrics").Err()
		}
	}
	return m, nil
}

func (m *Metrics) enqueued(depth int) {
	if m != nil {
		m.Enqueued.Inc()
		m.Depth.Set(float64(depth))
	}
}

func (m *Metrics) dequeued(depth int) {
	if m != nil {
		m.Depth.Set(float64(depth))
	}
}

func (m *Metrics) dropped(o Overflow) {
	if m != nil {
		m.Dropped.WithLabelValues(o.String()).Inc()
	}
}

func (m *Metrics) retried() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.Failed.Inc()
	}
}
