// Copyright 2026 The raftkit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import "github.com/prometheus/client_golang/prometheus"

var (
	clientRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raftkit",
		Subsystem: "server",
		Name:      "client_requests_total",
		Help:      "The total number of client API requests by method and response code.",
	},
		[]string{"method", "code"},
	)

	proposeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "raftkit",
		Subsystem: "server",
		Name:      "propose_duration_seconds",
		Help:      "The latency distributions of proposals from submission until applied.",

		// lowest bucket start of upper bound 0.001 sec (1 ms) with factor 2
		// highest bucket start of 0.001 sec * 2^13 == 8.192 sec
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	healthSuccesses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raftkit",
		Subsystem: "server",
		Name:      "health_success",
		Help:      "The total number of successful health checks",
	})
	healthFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raftkit",
		Subsystem: "server",
		Name:      "health_failures",
		Help:      "The total number of failed health checks",
	})
)

func init() {
	prometheus.MustRegister(clientRequests)
	prometheus.MustRegister(proposeDuration)
	prometheus.MustRegister(healthSuccesses)
	prometheus.MustRegister(healthFailures)
}
