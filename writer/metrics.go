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

package writer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Akanyi/clog/common/errors"
)

const namespace = "clog"

// Metrics holds the Prometheus collectors updated by Writers.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RecordsAppended prometheus.Counter
	ChunksFlushed   prometheus.Counter
	BytesWritten    *prometheus.CounterVec
	FlushErrors     prometheus.Counter
	LockWait        prometheus.Histogram
	Rotations       *prometheus.CounterVec
}

// NewMetrics creates Writer metrics and registers them with reg, unless reg is
// nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RecordsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "records_appended_total",
			Help:      "Records accepted by Append.",
		}),
		ChunksFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "chunks_flushed_total",
			Help:      "Chunks appended to clog files.",
		}),
		BytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "bytes_written_total",
			Help:      "Chunk payload bytes written, by representation.",
		}, []string{"kind"}),
		FlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "flush_errors_total",
			Help:      "Flushes that failed and left their records buffered.",
		}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring the cross-process lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		Rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "rotations_total",
			Help:      "File rotations, by reason.",
		}, []string{"reason"}),
	}
	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.RecordsAppended, m.ChunksFlushed, m.BytesWritten,
		m.FlushErrors, m.LockWait, m.Rotations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Annotate(err, "registering writer metrics").Err()
		}
	}
	return m, nil
}

func (m *Metrics) appended(n int) {
	if m != nil {
		m.RecordsAppended.Add(float64(n))
	}
}

func (m *Metrics) flushed(chunks, compressed, uncompressed int) {
	if m != nil {
		m.ChunksFlushed.Add(float64(chunks))
		m.BytesWritten.WithLabelValues("compressed").Add(float64(compressed))
		m.BytesWritten.WithLabelValues("uncompressed").Add(float64(uncompressed))
	}
}

func (m *Metrics) flushFailed() {
	if m != nil {
		m.FlushErrors.Inc()
	}
}

func (m *Metrics) lockWaited(d time.Duration) {
	if m != nil {
		m.LockWait.Observe(d.Seconds())
	}
}

func (m *Metrics) rotated(reason string) {
	if m != nil {
		m.Rotations.WithLabelValues(reason).Inc()
	}
}
