// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package prometheus implements shardkit.StatsClient on the Prometheus
// client library. shardkit's metric names are already in Prometheus form
// (snake_case, counters suffixed _total, durations in seconds), so names
// pass through with only the namespace prepended. Tags of the form
// "key:value" become labels; a metric keeps the label names it was first
// emitted with.
package prometheus

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// namespace is prepended to each metric name.
const namespace = "shardkit"

// Ensure client implements interface.
var _ shardkit.StatsClient = (*Client)(nil)

// Client is a StatsClient backed by collectors on the default Prometheus
// registerer. Clients derived with WithTags share the parent's collectors.
type Client struct {
	tags   []string
	logger logger.Logger
	vecs   *vecs
}

// NewClient returns a client registering its collectors with
// prometheus.DefaultRegisterer. Expose them with promhttp.Handler.
// Registration and emission errors are reported through log; nil means
// they are dropped.
func NewClient(log logger.Logger) *Client {
	if log == nil {
		log = logger.NopLogger
	}
	return &Client{
		logger: log,
		vecs: &vecs{
			counters:   make(map[string]*counterEntry),
			gauges:     make(map[string]*gaugeEntry),
			histograms: make(map[string]*histogramEntry),
		},
	}
}

// Open no-op.
func (c *Client) Open() {}

// Close no-op; collectors stay registered for the life of the process.
func (c *Client) Close() error { return nil }

// Tags returns a sorted list of tags on the client.
func (c *Client) Tags() []string {
	return c.tags
}

// WithTags returns a new client with additional tags appended.
func (c *Client) WithTags(tags ...string) shardkit.StatsClient {
	return &Client{
		tags:   shardkit.UnionStringSlice(c.tags, tags),
		logger: c.logger,
		vecs:   c.vecs,
	}
}

// Count adds value to the named counter.
func (c *Client) Count(name string, value int64, rate float64) {
	if ctr := c.vecs.counter(c.logger, name, c.tags); ctr != nil {
		ctr.Add(float64(value))
	}
}

// Gauge sets the value of a metric.
func (c *Client) Gauge(name string, value float64, rate float64) {
	if g := c.vecs.gauge(c.logger, name, c.tags); g != nil {
		g.Set(value)
	}
}

// Timing records value in the named histogram, in seconds.
func (c *Client) Timing(name string, value time.Duration, rate float64) {
	if h := c.vecs.histogram(c.logger, name, c.tags); h != nil {
		h.Observe(value.Seconds())
	}
}

type counterEntry struct {
	vec   *prometheus.CounterVec
	names []string
}

type gaugeEntry struct {
	vec   *prometheus.GaugeVec
	names []string
}

type histogramEntry struct {
	vec   *prometheus.HistogramVec
	names []string
}

// vecs lazily registers one collector per metric name. Prometheus pins a
// collector's label names at registration, so the first emission of a name
// decides them; later emissions resolve values for exactly those names.
type vecs struct {
	mu         sync.Mutex
	counters   map[string]*counterEntry
	gauges     map[string]*gaugeEntry
	histograms map[string]*histogramEntry
}

func (v *vecs) counter(log logger.Logger, name string, tags []string) prometheus.Counter {
	labels := labelsFor(tags)

	v.mu.Lock()
	e, ok := v.counters[name]
	if !ok {
		names := labelNames(labels)
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      name,
		}, names)
		if err := prometheus.Register(vec); err != nil {
			if are, isDup := err.(prometheus.AlreadyRegisteredError); isDup {
				vec = are.ExistingCollector.(*prometheus.CounterVec)
			} else {
				v.mu.Unlock()
				log.Printf("prometheus: registering counter %s: %v", name, err)
				return nil
			}
		}
		e = &counterEntry{vec: vec, names: names}
		v.counters[name] = e
	}
	v.mu.Unlock()

	ctr, err := e.vec.GetMetricWithLabelValues(valuesFor(e.names, labels)...)
	if err != nil {
		log.Printf("prometheus: counter %s: %v", name, err)
		return nil
	}
	return ctr
}

func (v *vecs) gauge(log logger.Logger, name string, tags []string) prometheus.Gauge {
	labels := labelsFor(tags)

	v.mu.Lock()
	e, ok := v.gauges[name]
	if !ok {
		names := labelNames(labels)
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      name,
		}, names)
		if err := prometheus.Register(vec); err != nil {
			if are, isDup := err.(prometheus.AlreadyRegisteredError); isDup {
				vec = are.ExistingCollector.(*prometheus.GaugeVec)
			} else {
				v.mu.Unlock()
				log.Printf("prometheus: registering gauge %s: %v", name, err)
				return nil
			}
		}
		e = &gaugeEntry{vec: vec, names: names}
		v.gauges[name] = e
	}
	v.mu.Unlock()

	g, err := e.vec.GetMetricWithLabelValues(valuesFor(e.names, labels)...)
	if err != nil {
		log.Printf("prometheus: gauge %s: %v", name, err)
		return nil
	}
	return g
}

func (v *vecs) histogram(log logger.Logger, name string, tags []string) prometheus.Observer {
	labels := labelsFor(tags)

	v.mu.Lock()
	e, ok := v.histograms[name]
	if !ok {
		names := labelNames(labels)
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      name,
			Buckets:   prometheus.DefBuckets,
		}, names)
		if err := prometheus.Register(vec); err != nil {
			if are, isDup := err.(prometheus.AlreadyRegisteredError); isDup {
				vec = are.ExistingCollector.(*prometheus.HistogramVec)
			} else {
				v.mu.Unlock()
				log.Printf("prometheus: registering histogram %s: %v", name, err)
				return nil
			}
		}
		e = &histogramEntry{vec: vec, names: names}
		v.histograms[name] = e
	}
	v.mu.Unlock()

	h, err := e.vec.GetMetricWithLabelValues(valuesFor(e.names, labels)...)
	if err != nil {
		log.Printf("prometheus: histogram %s: %v", name, err)
		return nil
	}
	return h
}

// labelsFor splits "key:value" tags into labels. A tag without a colon
// becomes a label with an empty value.
func labelsFor(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags))
	for _, tag := range tags {
		if i := strings.Index(tag, ":"); i >= 0 {
			labels[tag[:i]] = tag[i+1:]
		} else {
			labels[tag] = ""
		}
	}
	return labels
}

func labelNames(labels prometheus.Labels) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// valuesFor resolves the pinned label names against the current labels.
// Names the caller didn't supply resolve to empty values.
func valuesFor(names []string, labels prometheus.Labels) []string {
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = labels[name]
	}
	return values
}
