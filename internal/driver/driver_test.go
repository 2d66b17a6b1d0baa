package driver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/measurekit/promeasure/internal/config"
	"github.com/measurekit/promeasure/internal/measure"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":{"result":[]}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDescribe(t *testing.T) {
	path := writeConfig(t, `
prom:
  metrics:
    throughput:
      query: rate(http_requests_total[1m])
      unit: rps
    latency:
      query: histogram_quantile(0.95, rate(latency_bucket[1m]))
`)

	d := New(path, "prom", "", 0)
	got, err := d.Describe()
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}

	want := map[string]MetricInfo{
		"throughput": {Unit: "rps"},
		"latency":    {},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Describe=%v, want %v", got, want)
	}

	// Unchanged config, identical output.
	again, err := d.Describe()
	if err != nil {
		t.Fatalf("second Describe: %v", err)
	}
	if !reflect.DeepEqual(got, again) {
		t.Fatalf("Describe is not idempotent: %v vs %v", got, again)
	}
}

func TestDescribeConfigError(t *testing.T) {
	path := writeConfig(t, "prom:\n  metrics: {}\n")

	_, err := New(path, "prom", "", 0).Describe()
	var invalid *config.ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("err=%v, want *config.ValidationError", err)
	}
}

func TestMeasureEndpointFromConfig(t *testing.T) {
	srv := fakeBackend(t)
	path := writeConfig(t, `
prom:
  prometheus_endpoint: `+srv.URL+`
  metrics:
    m:
      query: up
`)

	d := New(path, "prom", "", 0)
	result, err := d.Measure(context.Background(), strings.NewReader(`{"metrics":["m"],"control":{"duration":0}}`))
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if _, ok := result.Metrics["m"]; !ok {
		t.Fatalf("Metrics=%v, want m", result.Metrics)
	}
}

func TestMeasureEndpointOverride(t *testing.T) {
	srv := fakeBackend(t)
	path := writeConfig(t, `
prom:
  prometheus_endpoint: http://unreachable.invalid:9090
  metrics:
    m:
      query: up
`)

	d := New(path, "prom", srv.URL, 0)
	if _, err := d.Measure(context.Background(), strings.NewReader(`{"metrics":["m"],"control":{"duration":0}}`)); err != nil {
		t.Fatalf("Measure with override: %v", err)
	}
}

func TestMeasureNoEndpoint(t *testing.T) {
	path := writeConfig(t, `
prom:
  metrics:
    m:
      query: up
`)

	_, err := New(path, "prom", "", 0).Measure(context.Background(), strings.NewReader(`{"metrics":["m"],"control":{"duration":0}}`))
	if !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("err=%v, want ErrNoEndpoint", err)
	}
}

func TestMeasureBadRequests(t *testing.T) {
	srv := fakeBackend(t)
	path := writeConfig(t, `
prom:
  prometheus_endpoint: `+srv.URL+`
  metrics:
    m:
      query: up
`)
	d := New(path, "prom", "", 0)

	cases := []struct {
		name string
		body string
	}{
		{"not JSON", "measure all the things"},
		{"metrics missing", `{"control":{"duration":10}}`},
		{"metrics empty", `{"metrics":[],"control":{"duration":10}}`},
		{"control missing", `{"metrics":["m"]}`},
		{"duration missing", `{"metrics":["m"],"control":{"warmup":5}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Measure(context.Background(), strings.NewReader(tc.body))
			var reqErr *measure.RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("err=%v, want *measure.RequestError", err)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	srv := fakeBackend(t)
	path := writeConfig(t, `
prom:
  metrics:
    m:
      query: up
`)

	if err := New(path, "prom", srv.URL, 0).Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := New(path, "prom", "", 0).Check(context.Background()); !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("Check without endpoint: %v, want ErrNoEndpoint", err)
	}
}
