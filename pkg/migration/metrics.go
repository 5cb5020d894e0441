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

package migration

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsMigration struct {
	once sync.Once

	runs     prometheus.Counter
	failures *prometheus.CounterVec
	fallback prometheus.Counter
	files    prometheus.Counter

	generation prometheus.Histogram
}

var migMetrics metricsMigration

func (m *metricsMigration) init() {
	m.once.Do(func() {
		m.runs = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_migration_runs_total", Help: "Migration requests started"})
		m.failures = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "morph_migration_failures_total", Help: "Migration requests that failed, by error kind"}, []string{"kind"})
		m.fallback = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_migration_threshold_fallbacks_total", Help: "Retrievals that fell back to top-k below the threshold"})
		m.files = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_migration_files_total", Help: "Migrated files returned by the model"})
		m.generation = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "morph_migration_generation_seconds",
			Help:    "Duration of the generation call",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 180},
		})
		prometheus.MustRegister(m.runs, m.failures, m.fallback, m.files, m.generation)
	})
}

func recordRun()                         { migMetrics.init(); migMetrics.runs.Inc() }
func recordFailure(kind string)          { migMetrics.init(); migMetrics.failures.WithLabelValues(kind).Inc() }
func recordFallback()                    { migMetrics.init(); migMetrics.fallback.Inc() }
func recordFiles(n int)                  { migMetrics.init(); migMetrics.files.Add(float64(n)) }
func observeGenerationSeconds(s float64) { migMetrics.init(); migMetrics.generation.Observe(s) }
