// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package metrics holds the Prometheus collectors of the reader backend.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	RequestCount   *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	BooksImported  prometheus.Counter
	ImportFailures prometheus.Counter
	ChunksEmbedded prometheus.Counter
	IndexDuration  prometheus.Histogram
	IndexFailures  prometheus.Counter
	QueryLatency   *prometheus.HistogramVec
	OllamaUp       prometheus.Gauge
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mereader_http_requests_total",
				Help: "Number of HTTP requests handled",
			},
			[]string{"method", "route", "status"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mereader_http_request_duration_seconds",
				Help:    "Latency of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		BooksImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mereader_books_imported_total",
			Help: "Number of books imported",
		}),
		ImportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mereader_book_import_failures_total",
			Help: "Number of failed book imports",
		}),
		ChunksEmbedded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mereader_chunks_embedded_total",
			Help: "Number of text chunks embedded",
		}),
		IndexDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mereader_index_duration_seconds",
			Help:    "Time spent indexing one book",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		IndexFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mereader_index_failures_total",
			Help: "Number of failed book indexing runs",
		}),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mereader_query_duration_seconds",
				Help:    "Latency of answered questions",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"kind"},
		),
		OllamaUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mereader_ollama_up",
			Help: "Whether the Ollama service answered the last poll",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestCount, m.RequestLatency,
		m.BooksImported, m.ImportFailures,
		m.ChunksEmbedded, m.IndexDuration, m.IndexFailures,
		m.QueryLatency, m.OllamaUp,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestLatency.WithLabelValues(route).Observe(took.Seconds())
}

// ObserveQuery records an answered question of the given kind.
func (m *Metrics) ObserveQuery(kind string, took time.Duration) {
	if m == nil {
		return
	}
	m.QueryLatency.WithLabelValues(kind).Observe(took.Seconds())
}

// Imported counts an import outcome.
func (m *Metrics) Imported(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.BooksImported.Inc()
	} else {
		m.ImportFailures.Inc()
	}
}

// Embedded counts embedded chunks.
func (m *Metrics) Embedded(n int) {
	if m == nil {
		return
	}
	m.ChunksEmbedded.Add(float64(n))
}

// Indexed records one indexing run.
func (m *Metrics) Indexed(took time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.IndexFailures.Inc()
		return
	}
	m.IndexDuration.Observe(took.Seconds())
}

// SetOllamaUp records the latest availability poll.
func (m *Metrics) SetOllamaUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.OllamaUp.Set(1)
	} else {
		m.OllamaUp.Set(0)
	}
}
