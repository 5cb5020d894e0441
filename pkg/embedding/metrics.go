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

package embedding

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsEmbedding holds Prometheus metrics for the embedding client.
type metricsEmbedding struct {
	once sync.Once

	computed       prometheus.Counter
	dummies        prometheus.Counter
	quotaFailovers prometheus.Counter
	poolResets     prometheus.Counter
	retries        prometheus.Counter
	errors         prometheus.Counter
	truncated      prometheus.Counter

	batchDuration prometheus.Histogram
}

var embMetrics metricsEmbedding

func (m *metricsEmbedding) init() {
	m.once.Do(func() {
		m.computed = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_embedding_computed_total", Help: "Embeddings returned by the provider"})
		m.dummies = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_embedding_dummy_total", Help: "Chunks that received a dummy vector"})
		m.quotaFailovers = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_embedding_quota_failovers_total", Help: "Credentials marked failed on quota or rate-limit responses"})
		m.poolResets = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_embedding_pool_resets_total", Help: "Times an exhausted credential pool was cleared"})
		m.retries = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_embedding_retries_total", Help: "Retries after non-quota provider errors"})
		m.errors = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_embedding_errors_total", Help: "Chunks whose embedding failed after all attempts"})
		m.truncated = prometheus.NewCounter(prometheus.CounterOpts{Name: "morph_embedding_truncated_total", Help: "Descriptors truncated to the provider input limit"})

		buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
		m.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "morph_embedding_batch_seconds", Help: "Duration of one embedding batch", Buckets: buckets})

		prometheus.MustRegister(
			m.computed, m.dummies, m.quotaFailovers, m.poolResets, m.retries, m.errors, m.truncated,
			m.batchDuration,
		)
	})
}

func recordComputed()               { embMetrics.init(); embMetrics.computed.Inc() }
func recordDummies(n int)           { embMetrics.init(); embMetrics.dummies.Add(float64(n)) }
func recordQuotaFailover()          { embMetrics.init(); embMetrics.quotaFailovers.Inc() }
func recordPoolReset()              { embMetrics.init(); embMetrics.poolResets.Inc() }
func recordRetry()                  { embMetrics.init(); embMetrics.retries.Inc() }
func recordError()                  { embMetrics.init(); embMetrics.errors.Inc() }
func recordTruncated()              { embMetrics.init(); embMetrics.truncated.Inc() }
func observeBatchSeconds(s float64) { embMetrics.init(); embMetrics.batchDuration.Observe(s) }
