package metrics

import (
	"sort"
	"sync"
	"time"
)

// Point is one recorded value
type Point struct {
	Timestamp time.Time
	Name      string
	Value     float64
	Labels    map[string]string
}

// Aggregation summarizes the points of one series
type Aggregation struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Mean  float64
	P50   float64
	P95   float64
	P99   float64
}

// Summary is the state of a collector at one moment
type Summary struct {
	Start        time.Time
	End          time.Time
	Duration     time.Duration
	Trials       map[string]int64
	Batches      int64
	BestLoss     float64
	HasBest      bool
	Aggregations map[string]*Aggregation
}

// Collector keeps run telemetry in memory. It implements solver.Recorder,
// so a run can be summarized without a metrics backend.
type Collector struct {
	mu  sync.RWMutex
	now func() time.Time

	start time.Time
	end   time.Time

	// metric name -> label key -> points
	series map[string]map[string][]Point

	inflight int
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	c := &Collector{now: time.Now, series: make(map[string]map[string][]Point)}
	c.start = c.now()
	return c
}

// Start marks the beginning of a run
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = c.now()
}

// Stop marks the end of a run
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.end = c.now()
}

// Record appends a value to the series identified by name and labels
func (c *Collector) Record(name string, value float64, ts time.Time, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := labelKey(labels)
	if c.series[name] == nil {
		c.series[name] = make(map[string][]Point)
	}
	c.series[name][key] = append(c.series[name][key], Point{
		Timestamp: ts,
		Name:      name,
		Value:     value,
		Labels:    copyLabels(labels),
	})
}

// TrialCompleted implements solver.Recorder
func (c *Collector) TrialCompleted(strategy, status string, d time.Duration) {
	c.Record(SeriesTrialDuration, d.Seconds(), c.now(), TrialLabels(strategy, status))
}

// BatchDispatched implements solver.Recorder
func (c *Collector) BatchDispatched(strategy string, size int) {
	c.Record(SeriesBatchSize, float64(size), c.now(), StrategyLabels(strategy))
}

// BestUpdated implements solver.Recorder
func (c *Collector) BestUpdated(strategy string, loss float64) {
	c.Record(SeriesBestLoss, loss, c.now(), StrategyLabels(strategy))
}

// SetInFlight implements solver.Recorder
func (c *Collector) SetInFlight(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = n
}

// InFlight returns the last reported number of running trials
func (c *Collector) InFlight() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inflight
}

// Series returns a copy of the points recorded under name and labels
func (c *Collector) Series(name string, labels map[string]string) []Point {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.series[name][labelKey(labels)]
	if points == nil {
		return nil
	}
	out := make([]Point, len(points))
	for i, p := range points {
		p.Labels = copyLabels(p.Labels)
		out[i] = p
	}
	return out
}

// Aggregate summarizes one series, or all label sets of name when labels is
// nil. It returns nil when nothing was recorded.
func (c *Collector) Aggregate(name string, labels map[string]string) *Aggregation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var values []float64
	if labels == nil {
		for _, points := range c.series[name] {
			values = appendValues(values, points)
		}
	} else {
		values = appendValues(values, c.series[name][labelKey(labels)])
	}
	return calculateAggregation(values)
}

// Names lists the recorded series names alphabetically
func (c *Collector) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.series))
	for name := range c.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary aggregates everything recorded so far
func (c *Collector) Summary() Summary {
	names := c.Names()

	c.mu.RLock()
	s := Summary{
		Start:        c.start,
		End:          c.end,
		Trials:       make(map[string]int64),
		Aggregations: make(map[string]*Aggregation, len(names)),
	}
	if !c.end.IsZero() {
		s.Duration = c.end.Sub(c.start)
	}
	for _, points := range c.series[SeriesTrialDuration] {
		for _, p := range points {
			s.Trials[p.Labels[LabelStatus]]++
		}
	}
	for _, points := range c.series[SeriesBatchSize] {
		s.Batches += int64(len(points))
	}
	for _, points := range c.series[SeriesBestLoss] {
		for _, p := range points {
			if !s.HasBest || p.Value < s.BestLoss {
				s.BestLoss, s.HasBest = p.Value, true
			}
		}
	}
	c.mu.RUnlock()

	for _, name := range names {
		if agg := c.Aggregate(name, nil); agg != nil {
			s.Aggregations[name] = agg
		}
	}
	return s
}

// Reset drops all recorded points
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series = make(map[string]map[string][]Point)
	c.start = c.now()
	c.end = time.Time{}
	c.inflight = 0
}

func appendValues(dst []float64, points []Point) []float64 {
	for _, p := range points {
		dst = append(dst, p.Value)
	}
	return dst
}
