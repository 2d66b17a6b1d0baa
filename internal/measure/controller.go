// Package measure drives the measurement window: a pre-check query to
// fail fast on broken queries, the warmup+duration+delay wait, and the
// authoritative post-window query.
//
// Requested metric names with no config entry are skipped silently
// rather than rejected. Some callers request derived metric names the
// config never defines; tolerating them is a compatibility concession,
// not a design goal.
package measure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/measurekit/promeasure/internal/config"
	"github.com/measurekit/promeasure/internal/promql"
)

// preCheckWindow is the trailing window the pre-check query covers. The
// data it returns is discarded; the query exists only to surface backend
// and query-syntax errors before committing to the long wait.
const preCheckWindow = 10 * time.Minute

// ErrCancelled reports a measurement abandoned because the caller's
// context was cancelled. No partial result accompanies it.
var ErrCancelled = errors.New("measurement cancelled")

// RequestError reports a malformed measurement request.
type RequestError struct {
	Detail string
}

func (e *RequestError) Error() string {
	return "invalid measurement request: " + e.Detail
}

// QueryError reports a backend failure during the pre-check or final
// query phase. Query carries the failing expression so the operator can
// match it to a config entry.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("metric query %q failed: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Control is the timing block of a measurement request, in seconds.
// HasDuration distinguishes an explicit zero duration from an absent
// field; duration is the only required timing value.
type Control struct {
	Warmup      int
	Duration    int
	Delay       int
	HasDuration bool
}

// Request names the metrics to measure and how long to measure them.
type Request struct {
	MetricNames []string
	Control     Control
}

// MetricReading is the measured series for one metric plus the query
// that produced them.
type MetricReading struct {
	Values     []promql.Series `json:"values"`
	Annotation string          `json:"annotation"`
}

// Result is the outcome of one completed measurement.
type Result struct {
	Metrics     map[string]MetricReading `json:"metrics"`
	Annotations map[string]string        `json:"annotations"`
}

// Controller runs measurements one at a time. Progress may be read from
// another goroutine while Measure blocks; everything else is single
// threaded.
type Controller struct {
	client *promql.Client

	// now and sleep are swapped out by tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	mu         sync.Mutex
	sleepStart time.Time
	sleepTotal time.Duration
	finished   bool
}

// New returns a Controller issuing queries through client.
func New(client *promql.Client) *Controller {
	return &Controller{
		client: client,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Measure validates req, pre-checks every resolvable query over the
// trailing ten minutes, waits warmup+duration+delay seconds, then runs
// the authoritative queries over [now+warmup, now+warmup+duration].
// Delay extends the wait but never the query window. Metrics are
// queried sequentially in request order.
func (c *Controller) Measure(ctx context.Context, cfg *config.Config, endpoint string, req Request) (*Result, error) {
	if len(req.MetricNames) == 0 {
		return nil, &RequestError{Detail: "metric names are missing or empty"}
	}
	if !req.Control.HasDuration {
		return nil, &RequestError{Detail: "duration is required"}
	}
	if req.Control.Warmup < 0 || req.Control.Duration < 0 || req.Control.Delay < 0 {
		return nil, &RequestError{Detail: "warmup, duration and delay must not be negative"}
	}

	resolved := resolve(cfg, req.MetricNames)

	preEnd := c.now()
	preStart := preEnd.Add(-preCheckWindow)
	if _, err := c.runQueries(ctx, endpoint, resolved, preStart.Unix(), preEnd.Unix()); err != nil {
		return nil, err
	}

	warmup := time.Duration(req.Control.Warmup) * time.Second
	duration := time.Duration(req.Control.Duration) * time.Second
	delay := time.Duration(req.Control.Delay) * time.Second

	begin := c.now()
	start := begin.Add(warmup)
	total := warmup + duration + delay

	c.mu.Lock()
	c.sleepStart = begin
	c.sleepTotal = total
	c.finished = false
	c.mu.Unlock()

	if err := c.sleep(ctx, total); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	c.mu.Lock()
	c.finished = true
	c.mu.Unlock()

	metrics, err := c.runQueries(ctx, endpoint, resolved, start.Unix(), start.Add(duration).Unix())
	if err != nil {
		return nil, err
	}
	return &Result{Metrics: metrics, Annotations: map[string]string{}}, nil
}

// Progress reports how far the current wait has come as an integer
// percentage, recomputed from the wall clock on every call. It reads 0
// before the wait begins and 100 once the final query phase starts.
func (c *Controller) Progress() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		return 100
	}
	if c.sleepStart.IsZero() {
		return 0
	}
	if c.sleepTotal <= 0 {
		return 100
	}

	pct := int(100 * c.now().Sub(c.sleepStart) / c.sleepTotal)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

type resolvedMetric struct {
	name string
	def  config.Metric
}

// resolve maps requested names to config entries, dropping names the
// config does not define.
func resolve(cfg *config.Config, names []string) []resolvedMetric {
	resolved := make([]resolvedMetric, 0, len(names))
	for _, name := range names {
		def, ok := cfg.Metrics[name]
		if !ok {
			continue
		}
		resolved = append(resolved, resolvedMetric{name: name, def: def})
	}
	return resolved
}

func (c *Controller) runQueries(ctx context.Context, endpoint string, metrics []resolvedMetric, start, end int64) (map[string]MetricReading, error) {
	readings := make(map[string]MetricReading, len(metrics))
	for _, m := range metrics {
		series, err := c.client.QueryRange(ctx, endpoint, m.def.Query, start, end, m.def.Period)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			}
			return nil, &QueryError{Query: m.def.Query, Err: err}
		}
		readings[m.name] = MetricReading{Values: series, Annotation: m.def.Query}
	}
	return readings, nil
}

// sleepContext blocks for d or until ctx is cancelled, whichever comes
// first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
