// Package promql is a thin client for the Prometheus HTTP range-query
// API. It normalizes the backend's response into flat, label-identified
// series so callers never see raw API JSON.
package promql

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/common/model"
)

// DefaultTimeout bounds each request. The API itself specifies no
// timeout; this is a robustness floor so a stuck backend cannot hang a
// measurement forever.
const DefaultTimeout = 30 * time.Second

// idPairSep joins a label name to its value inside a series ID.
const idPairSep = ":"

// idSep joins the name:value pairs of a series ID.
const idSep = "   "

// Series is one labeled time series returned by a range query. ID is a
// deterministic serialization of the label set (sorted by label name,
// __name__ removed) so identical label sets always compare equal
// regardless of backend ordering.
type Series struct {
	ID   string  `json:"id"`
	Data []Point `json:"data"`
}

// Point is one sample. It JSON-encodes as a two-element array
// [timestamp, value].
type Point struct {
	Timestamp float64
	Value     Number
}

func (p Point) MarshalJSON() ([]byte, error) {
	ts, err := json.Marshal(p.Timestamp)
	if err != nil {
		return nil, err
	}
	v, err := json.Marshal(p.Value)
	if err != nil {
		return nil, err
	}
	return []byte("[" + string(ts) + "," + string(v) + "]"), nil
}

// Number is a sample value decoded from the backend's string form.
// Integer samples keep their integer representation through JSON round
// trips instead of picking up a trailing ".0" or exponent notation.
type Number struct {
	f     float64
	i     int64
	isInt bool
}

// Int returns a Number holding an integer sample.
func Int(v int64) Number { return Number{i: v, isInt: true} }

// Float returns a Number holding a floating point sample.
func Float(v float64) Number { return Number{f: v} }

// Float64 returns the value widened to float64.
func (n Number) Float64() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

// IsInt reports whether the backend sent an integer representation.
func (n Number) IsInt() bool { return n.isInt }

func (n Number) String() string {
	if n.isInt {
		return strconv.FormatInt(n.i, 10)
	}
	return strconv.FormatFloat(n.f, 'f', -1, 64)
}

func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnreachableError reports a request that never produced an HTTP
// response.
type UnreachableError struct {
	URL string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("prometheus unreachable at %s: %v", e.URL, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// HTTPError reports a non-200 response from the backend.
type HTTPError struct {
	Status int
	Query  string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("prometheus returned HTTP %d for query %q", e.Status, e.Query)
}

// ResponseError reports a 200 response whose body is not a valid
// range-query result.
type ResponseError struct {
	Reason string
	Err    error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid prometheus response: %s: %v", e.Reason, e.Err)
	}
	return "invalid prometheus response: " + e.Reason
}

func (e *ResponseError) Unwrap() error { return e.Err }

// Client issues range queries against one Prometheus-compatible
// endpoint at a time. The zero value is not usable; construct with
// NewClient.
type Client struct {
	http *http.Client
}

// NewClient returns a Client whose requests are bounded by timeout.
// A non-positive timeout selects DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// rangeResponse mirrors the documented API shape:
// {"status":"success","data":{"result":[{"metric":{...},"values":[[ts,"v"],...]}]}}
type rangeResponse struct {
	Status string     `json:"status"`
	Data   *rangeData `json:"data"`
}

type rangeData struct {
	Result []rangeResult `json:"result"`
}

type rangeResult struct {
	Metric model.Metric `json:"metric"`
	Values []rawSample  `json:"values"`
}

type rawSample struct {
	ts  float64
	val string
}

func (s *rawSample) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("sample has %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &s.ts); err != nil {
		return fmt.Errorf("sample timestamp: %w", err)
	}
	if err := json.Unmarshal(pair[1], &s.val); err != nil {
		return fmt.Errorf("sample value: %w", err)
	}
	return nil
}

// QueryRange runs query over [start, end] at step-second resolution and
// returns the normalized series. An empty slice with a nil error means
// the backend matched no series, which is a legitimate outcome. Callers
// guarantee start <= end.
func (c *Client) QueryRange(ctx context.Context, endpoint, query string, start, end int64, step int) ([]Series, error) {
	if step < 1 {
		step = 1
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start, 10))
	params.Set("end", strconv.FormatInt(end, 10))
	params.Set("step", strconv.Itoa(step))
	reqURL := strings.TrimRight(endpoint, "/") + "/api/v1/query_range?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build range query request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UnreachableError{URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Status: resp.StatusCode, Query: query}
	}

	var decoded rangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ResponseError{Reason: "body is not JSON", Err: err}
	}
	if decoded.Status != "success" {
		return nil, &ResponseError{Reason: fmt.Sprintf("status is %q, want success", decoded.Status)}
	}
	if decoded.Data == nil {
		return nil, &ResponseError{Reason: "response has no data payload"}
	}

	series := make([]Series, 0, len(decoded.Data.Result))
	for _, result := range decoded.Data.Result {
		series = append(series, normalize(result))
	}
	return series, nil
}

// CheckEndpoint probes the backend's label-values API to verify the
// endpoint speaks the Prometheus HTTP API at all. No query is run.
func (c *Client) CheckEndpoint(ctx context.Context, endpoint string) error {
	reqURL := fmt.Sprintf("%s/api/v1/label/%s/values", strings.TrimRight(endpoint, "/"), model.MetricNameLabel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build capability request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &UnreachableError{URL: reqURL, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{Status: resp.StatusCode, Query: "capability check"}
	}
	return nil
}

// normalize converts one API result item into a Series: the __name__
// label is dropped, the remaining labels form the sorted ID, and each
// sample value is decoded from its string form. Samples that fail to
// decode, including the NaN sentinel, are skipped rather than reported.
// Point order is the backend's, which for range queries is ascending by
// timestamp.
func normalize(result rangeResult) Series {
	labels := make(model.Metric, len(result.Metric))
	for name, value := range result.Metric {
		if name == model.MetricNameLabel {
			continue
		}
		labels[name] = value
	}

	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, string(name))
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+idPairSep+string(labels[model.LabelName(name)]))
	}

	series := Series{
		ID:   strings.Join(pairs, idSep),
		Data: make([]Point, 0, len(result.Values)),
	}
	for _, sample := range result.Values {
		value, ok := decodeValue(sample.val)
		if !ok {
			continue
		}
		series.Data = append(series.Data, Point{Timestamp: sample.ts, Value: value})
	}
	return series
}

// decodeValue parses the backend's string sample representation. A
// string with a decimal point is a float, the NaN sentinel is dropped,
// anything else is tried as an integer.
func decodeValue(raw string) (Number, bool) {
	if strings.Contains(raw, ".") {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Number{}, false
		}
		return Float(f), true
	}
	if raw == "NaN" {
		return Number{}, false
	}
	i, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Number{}, false
	}
	return Int(i), true
}
