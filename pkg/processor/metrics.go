// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package processor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsProcessor struct {
	once sync.Once

	claimed   prometheus.Counter
	ready     prometheus.Counter
	failed    *prometheus.CounterVec
	cancelled prometheus.Counter
	files     *prometheus.CounterVec
	chunks    prometheus.Counter
	running   prometheus.Gauge

	jobDuration prometheus.Histogram
}

var procMetrics metricsProcessor

func (m *metricsProcessor) init() {
	m.once.Do(func() {
		m.claimed = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_processor_jobs_claimed_total", Help: "Jobs claimed by this process"})
		m.ready = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_processor_jobs_ready_total", Help: "Jobs that reached ready"})
		m.failed = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "morph_processor_jobs_failed_total", Help: "Jobs that reached failed, by error kind"}, []string{"kind"})
		m.cancelled = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_processor_jobs_cancelled_total", Help: "Running jobs cancelled by deletion"})
		m.files = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "morph_processor_files_total", Help: "Files walked, by outcome"}, []string{"outcome"})
		m.chunks = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_processor_chunks_stored_total", Help: "Chunks written to the chunk store"})
		m.running = prometheus.NewGauge(prometheus.GaugeOpts{Name: "morph_processor_jobs_running", Help: "Jobs currently being processed"})

		buckets := []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800}
		m.jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "morph_processor_job_seconds", Help: "Wall time of one processJob run", Buckets: buckets})

		prometheus.MustRegister(m.claimed, m.ready, m.failed, m.cancelled, m.files, m.chunks, m.running, m.jobDuration)
	})
}

func recordClaimed()              { procMetrics.init(); procMetrics.claimed.Inc() }
func recordReady()                { procMetrics.init(); procMetrics.ready.Inc() }
func recordFailed(kind string)    { procMetrics.init(); procMetrics.failed.WithLabelValues(kind).Inc() }
func recordCancelled()            { procMetrics.init(); procMetrics.cancelled.Inc() }
func recordFile(outcome string)   { procMetrics.init(); procMetrics.files.WithLabelValues(outcome).Inc() }
func recordChunks(n int)          { procMetrics.init(); procMetrics.chunks.Add(float64(n)) }
func runningDelta(d float64)      { procMetrics.init(); procMetrics.running.Add(d) }
func observeJobSeconds(s float64) { procMetrics.init(); procMetrics.jobDuration.Observe(s) }
