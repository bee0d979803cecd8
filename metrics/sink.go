package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chatload/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metric names recorded by virtual users and the scheduler.
const (
	MetricMessagesSent     = "messages_sent"
	MetricMessagesReceived = "messages_received"
	MetricSessionsStarted  = "sessions_started"
	MetricSessionsFailed   = "sessions_failed"
	MetricSendErrors       = "send_errors"

	MetricConnectTime         = "connect_time"
	MetricSendMessageTime     = "send_message_time"
	MetricMessageReceivedTime = "message_received_time"
	MetricMessageDeliveryTime = "message_delivery_time"

	MetricMessageErrorRate = "message_error_rate"

	MetricVUs = "vus"

	CheckConnected       = "connected"
	CheckMessageReceived = "message received"
)

const namespace = "chatload"

var summaryObjectives = map[float64]float64{
	0.5:  0.05,
	0.9:  0.01,
	0.95: 0.005,
	0.99: 0.001,
}

type counter struct {
	value atomic.Int64
	prom  prometheus.Counter
}

type trend struct {
	mutex   sync.Mutex
	samples []float64 // milliseconds
	prom    prometheus.Summary
}

type rate struct {
	hits      atomic.Int64
	total     atomic.Int64
	promHits  prometheus.Counter
	promTotal prometheus.Counter
}

type check struct {
	passes atomic.Int64
	fails  atomic.Int64
}

type gauge struct {
	bits atomic.Uint64
	prom prometheus.Gauge
}

// Sink accumulates everything a run measures. All methods are safe for
// concurrent use by any number of virtual users.
type Sink struct {
	mutex    sync.RWMutex
	counters map[string]*counter
	trends   map[string]*trend
	rates    map[string]*rate
	checks   map[string]*check
	gauges   map[string]*gauge

	checkVec  *prometheus.CounterVec
	registry  *prometheus.Registry
	logger    *models.LoadLogger
	dropped   atomic.Int64
	startedAt time.Time
}

func NewSink(logger *models.LoadLogger) *Sink {
	if logger == nil {
		logger = models.NewNopLoadLogger()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	checkVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checks_total",
		Help:      "Pass/fail assertions recorded by virtual users.",
	}, []string{"check", "result"})
	registry.MustRegister(checkVec)

	return &Sink{
		counters:  make(map[string]*counter),
		trends:    make(map[string]*trend),
		rates:     make(map[string]*rate),
		checks:    make(map[string]*check),
		gauges:    make(map[string]*gauge),
		checkVec:  checkVec,
		registry:  registry,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Registry exposes the Prometheus mirror of every metric.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Dropped returns how many records were rejected as invalid.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Sink) drop(format string, v ...any) {
	s.dropped.Add(1)
	s.logger.Warning("metrics: "+format, v...)
}

// Increment adds amount to counter name.
func (s *Sink) Increment(name string, amount int64) {
	if name == "" {
		s.drop("counter with empty name dropped")
		return
	}
	if amount < 0 {
		s.drop("negative increment %d for counter %s dropped", amount, name)
		return
	}

	c := s.counter(name)
	c.value.Add(amount)
	if c.prom != nil {
		c.prom.Add(float64(amount))
	}
}

// RecordDuration appends one timing sample to trend name.
func (s *Sink) RecordDuration(name string, d time.Duration) {
	if name == "" {
		s.drop("trend sample with empty name dropped")
		return
	}
	if d < 0 {
		s.drop("negative duration %v for trend %s dropped", d, name)
		return
	}

	t := s.trend(name)
	ms := float64(d) / float64(time.Millisecond)
	t.mutex.Lock()
	t.samples = append(t.samples, ms)
	t.mutex.Unlock()
	if t.prom != nil {
		t.prom.Observe(d.Seconds())
	}
}

// RecordRate adds one boolean sample to rate name.
func (s *Sink) RecordRate(name string, hit bool) {
	if name == "" {
		s.drop("rate sample with empty name dropped")
		return
	}

	r := s.rate(name)
	r.total.Add(1)
	if r.promTotal != nil {
		r.promTotal.Inc()
	}
	if hit {
		r.hits.Add(1)
		if r.promHits != nil {
			r.promHits.Inc()
		}
	}
}

// RecordCheck records the outcome of a named assertion.
func (s *Sink) RecordCheck(name string, ok bool) {
	if name == "" {
		s.drop("check with empty name dropped")
		return
	}

	c := s.check(name)
	result := "pass"
	if ok {
		c.passes.Add(1)
	} else {
		c.fails.Add(1)
		result = "fail"
	}
	s.checkVec.WithLabelValues(name, result).Inc()
}

// SetGauge sets the current value of gauge name.
func (s *Sink) SetGauge(name string, v float64) {
	if name == "" {
		s.drop("gauge with empty name dropped")
		return
	}

	g := s.gauge(name)
	g.bits.Store(math.Float64bits(v))
	if g.prom != nil {
		g.prom.Set(v)
	}
}

func (s *Sink) counter(name string) *counter {
	s.mutex.RLock()
	c, ok := s.counters[name]
	s.mutex.RUnlock()
	if ok {
		return c
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if c, ok := s.counters[name]; ok {
		return c
	}

	c = &counter{}
	prom := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      promName(name) + "_total",
		Help:      "Counter " + name + ".",
	})
	if s.register(name, prom) {
		c.prom = prom
	}
	s.counters[name] = c
	return c
}

func (s *Sink) trend(name string) *trend {
	s.mutex.RLock()
	t, ok := s.trends[name]
	s.mutex.RUnlock()
	if ok {
		return t
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if t, ok := s.trends[name]; ok {
		return t
	}

	t = &trend{}
	prom := prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace:  namespace,
		Name:       promName(name) + "_seconds",
		Help:       "Timing distribution " + name + ".",
		Objectives: summaryObjectives,
	})
	if s.register(name, prom) {
		t.prom = prom
	}
	s.trends[name] = t
	return t
}

func (s *Sink) rate(name string) *rate {
	s.mutex.RLock()
	r, ok := s.rates[name]
	s.mutex.RUnlock()
	if ok {
		return r
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if r, ok := s.rates[name]; ok {
		return r
	}

	r = &rate{}
	total := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      promName(name) + "_total",
		Help:      "Samples recorded for rate " + name + ".",
	})
	hits := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      promName(name) + "_hits_total",
		Help:      "Non-zero samples recorded for rate " + name + ".",
	})
	if s.register(name, total) && s.register(name, hits) {
		r.promTotal = total
		r.promHits = hits
	}
	s.rates[name] = r
	return r
}

func (s *Sink) check(name string) *check {
	s.mutex.RLock()
	c, ok := s.checks[name]
	s.mutex.RUnlock()
	if ok {
		return c
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if c, ok := s.checks[name]; ok {
		return c
	}
	c = &check{}
	s.checks[name] = c
	return c
}

func (s *Sink) gauge(name string) *gauge {
	s.mutex.RLock()
	g, ok := s.gauges[name]
	s.mutex.RUnlock()
	if ok {
		return g
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if g, ok := s.gauges[name]; ok {
		return g
	}

	g = &gauge{}
	prom := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      promName(name),
		Help:      "Gauge " + name + ".",
	})
	if s.register(name, prom) {
		g.prom = prom
	}
	s.gauges[name] = g
	return g
}

// register keeps the in-memory metric even when the Prometheus name clashes.
func (s *Sink) register(name string, c prometheus.Collector) bool {
	if err := s.registry.Register(c); err != nil {
		s.logger.Warning("metrics: %s not exported to prometheus: %v", name, err)
		return false
	}
	return true
}

// promName maps a metric name onto the Prometheus name alphabet.
func promName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// TrendStats summarises a trend in milliseconds.
type TrendStats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Med   float64 `json:"med"`
	Max   float64 `json:"max"`
	P90   float64 `json:"p(90)"`
	P95   float64 `json:"p(95)"`
	P99   float64 `json:"p(99)"`
}

type RateStats struct {
	Hits  int64   `json:"hits"`
	Total int64   `json:"total"`
	Rate  float64 `json:"rate"`
}

type CheckStats struct {
	Passes int64 `json:"passes"`
	Fails  int64 `json:"fails"`
}

// Snapshot is a point-in-time copy of every metric.
type Snapshot struct {
	Timestamp time.Time             `json:"timestamp"`
	Elapsed   time.Duration         `json:"elapsed"`
	Counters  map[string]int64      `json:"counters"`
	Trends    map[string]TrendStats `json:"trends"`
	Rates     map[string]RateStats  `json:"rates"`
	Checks    map[string]CheckStats `json:"checks"`
	Gauges    map[string]float64    `json:"gauges"`
	Dropped   int64                 `json:"dropped"`
}

func (s *Sink) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	now := time.Now()
	snap := Snapshot{
		Timestamp: now,
		Elapsed:   now.Sub(s.startedAt),
		Counters:  make(map[string]int64, len(s.counters)),
		Trends:    make(map[string]TrendStats, len(s.trends)),
		Rates:     make(map[string]RateStats, len(s.rates)),
		Checks:    make(map[string]CheckStats, len(s.checks)),
		Gauges:    make(map[string]float64, len(s.gauges)),
		Dropped:   s.dropped.Load(),
	}

	for name, c := range s.counters {
		snap.Counters[name] = c.value.Load()
	}
	for name, t := range s.trends {
		t.mutex.Lock()
		samples := append([]float64(nil), t.samples...)
		t.mutex.Unlock()
		snap.Trends[name] = computeTrend(samples)
	}
	for name, r := range s.rates {
		total := r.total.Load()
		hits := r.hits.Load()
		stats := RateStats{Hits: hits, Total: total}
		if total > 0 {
			stats.Rate = float64(hits) / float64(total)
		}
		snap.Rates[name] = stats
	}
	for name, c := range s.checks {
		snap.Checks[name] = CheckStats{Passes: c.passes.Load(), Fails: c.fails.Load()}
	}
	for name, g := range s.gauges {
		snap.Gauges[name] = math.Float64frombits(g.bits.Load())
	}

	return snap
}

func computeTrend(samples []float64) TrendStats {
	if len(samples) == 0 {
		return TrendStats{}
	}

	sort.Float64s(samples)

	var sum float64
	for _, v := range samples {
		sum += v
	}

	return TrendStats{
		Count: len(samples),
		Avg:   sum / float64(len(samples)),
		Min:   samples[0],
		Med:   percentile(samples, 0.5),
		Max:   samples[len(samples)-1],
		P90:   percentile(samples, 0.9),
		P95:   percentile(samples, 0.95),
		P99:   percentile(samples, 0.99),
	}
}

// percentile interpolates linearly between the closest ranks of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}
