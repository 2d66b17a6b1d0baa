// Package driver adapts the measurement controller to the host
// framework's call contract: describe, measure, a progress accessor and
// context-based cancellation. The host owns argument parsing and result
// transport; this package owns request decoding and endpoint
// resolution.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/measurekit/promeasure/internal/config"
	"github.com/measurekit/promeasure/internal/measure"
	"github.com/measurekit/promeasure/internal/promql"
)

// ErrNoEndpoint reports that neither the config document nor the host
// supplied a Prometheus endpoint.
var ErrNoEndpoint = errors.New("prometheus endpoint not configured")

// MetricInfo is the describe() entry for one metric.
type MetricInfo struct {
	Unit string `json:"unit,omitempty"`
}

// Driver is one configured adapter instance. The config document is
// re-read on every Describe and Measure call so file edits between
// invocations take effect; no state survives a call.
type Driver struct {
	ConfigPath string
	DriverKey  string
	// Endpoint, when non-empty, overrides the config document's
	// prometheus_endpoint.
	Endpoint string

	ctrl *measure.Controller
}

// New returns a Driver reading the driverKey section of the document at
// configPath. endpoint overrides the document's endpoint when non-empty.
func New(configPath, driverKey, endpoint string, timeout time.Duration) *Driver {
	return &Driver{
		ConfigPath: configPath,
		DriverKey:  driverKey,
		Endpoint:   endpoint,
		ctrl:       measure.New(promql.NewClient(timeout)),
	}
}

// Describe loads the config and returns the metric/unit map. No backend
// call is made; repeated calls with an unchanged config return identical
// output.
func (d *Driver) Describe() (map[string]MetricInfo, error) {
	cfg, err := config.Load(d.ConfigPath, d.DriverKey)
	if err != nil {
		return nil, err
	}
	info := make(map[string]MetricInfo, len(cfg.Metrics))
	for name, metric := range cfg.Metrics {
		info[name] = MetricInfo{Unit: metric.Unit}
	}
	return info, nil
}

// Measure decodes one measurement request from in and runs it.
// Cancelling ctx at any point abandons the measurement; the returned
// error then matches measure.ErrCancelled and no result is produced.
func (d *Driver) Measure(ctx context.Context, in io.Reader) (*measure.Result, error) {
	cfg, err := config.Load(d.ConfigPath, d.DriverKey)
	if err != nil {
		return nil, err
	}

	req, err := decodeRequest(in)
	if err != nil {
		return nil, err
	}

	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = cfg.Endpoint
	}
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}

	return d.ctrl.Measure(ctx, cfg, endpoint, req)
}

// Check verifies the resolved endpoint answers the Prometheus HTTP API.
func (d *Driver) Check(ctx context.Context) error {
	cfg, err := config.Load(d.ConfigPath, d.DriverKey)
	if err != nil {
		return err
	}
	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = cfg.Endpoint
	}
	if endpoint == "" {
		return ErrNoEndpoint
	}
	return promql.NewClient(0).CheckEndpoint(ctx, endpoint)
}

// Progress reports the running measurement's elapsed percentage. The
// host polls this from a separate goroutine while Measure blocks.
func (d *Driver) Progress() int {
	return d.ctrl.Progress()
}

// wireRequest is the host's JSON request shape. Pointer fields
// distinguish absent from zero.
type wireRequest struct {
	Metrics []string     `json:"metrics"`
	Control *wireControl `json:"control"`
}

type wireControl struct {
	Warmup   *int `json:"warmup"`
	Duration *int `json:"duration"`
	Delay    *int `json:"delay"`
}

func decodeRequest(in io.Reader) (measure.Request, error) {
	var wire wireRequest
	if err := json.NewDecoder(in).Decode(&wire); err != nil {
		return measure.Request{}, &measure.RequestError{Detail: fmt.Sprintf("request is not valid JSON: %v", err)}
	}

	req := measure.Request{MetricNames: wire.Metrics}
	if wire.Control != nil {
		if wire.Control.Warmup != nil {
			req.Control.Warmup = *wire.Control.Warmup
		}
		if wire.Control.Delay != nil {
			req.Control.Delay = *wire.Control.Delay
		}
		if wire.Control.Duration != nil {
			req.Control.Duration = *wire.Control.Duration
			req.Control.HasDuration = true
		}
	}
	return req, nil
}
