// Package config loads and validates the metric-definition document.
//
// The document is YAML, keyed at the top level by a driver key so that
// several instances of the driver can share one file while reading
// distinct sections:
//
//	prom:
//	  prometheus_endpoint: http://prometheus:9090
//	  metrics:
//	    throughput:
//	      query: rate(http_requests_total[1m])
//	      unit: rps
//	      period: 30
//
// Loading is strict: unknown keys anywhere in the selected section fail
// the whole load. The file is re-read on every call so edits between
// invocations take effect without a restart.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultDriverKey selects the standard top-level section.
const DefaultDriverKey = "prom"

// DefaultPeriod is the sampling period in seconds applied to metrics
// that do not set one.
const DefaultPeriod = 60

// Metric is one validated metric definition.
type Metric struct {
	Query  string
	Unit   string
	Period int
}

// Config is the validated content of one driver section.
type Config struct {
	Endpoint string
	Metrics  map[string]Metric
}

// ParseError reports a document that is not well-formed YAML.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("config %s: parse failed: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SectionError reports a document missing the selected driver section.
type SectionError struct {
	Path string
	Key  string
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("config %s: section %q not found", e.Path, e.Key)
}

// ValidationError reports a well-formed document with invalid content.
type ValidationError struct {
	Path   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Path, e.Detail)
}

// Load reads the document at path, selects the driverKey section and
// validates it. It has no side effects beyond the read and is safe to
// call repeatedly.
func Load(path, driverKey string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	section, ok := doc[driverKey]
	if !ok {
		return nil, &SectionError{Path: path, Key: driverKey}
	}
	if section.Kind != yaml.MappingNode {
		return nil, &ValidationError{Path: path, Detail: fmt.Sprintf("section %q is not a mapping", driverKey)}
	}

	cfg := &Config{Metrics: make(map[string]Metric)}
	sawMetrics := false

	for i := 0; i < len(section.Content); i += 2 {
		key, value := section.Content[i], section.Content[i+1]
		switch key.Value {
		case "prometheus_endpoint":
			var endpoint string
			if err := value.Decode(&endpoint); err != nil || endpoint == "" {
				return nil, &ValidationError{Path: path, Detail: "prometheus_endpoint must be a non-empty string"}
			}
			cfg.Endpoint = endpoint
		case "metrics":
			sawMetrics = true
			if err := decodeMetrics(path, value, cfg.Metrics); err != nil {
				return nil, err
			}
		default:
			return nil, &ValidationError{Path: path, Detail: fmt.Sprintf("unknown key %q in section %q", key.Value, driverKey)}
		}
	}

	if !sawMetrics {
		return nil, &ValidationError{Path: path, Detail: "metrics section is missing"}
	}
	if len(cfg.Metrics) == 0 {
		return nil, &ValidationError{Path: path, Detail: "metrics section is empty"}
	}
	return cfg, nil
}

func decodeMetrics(path string, node *yaml.Node, out map[string]Metric) error {
	if node.Kind != yaml.MappingNode {
		return &ValidationError{Path: path, Detail: "metrics must be a mapping of metric name to definition"}
	}

	for i := 0; i < len(node.Content); i += 2 {
		name, def := node.Content[i].Value, node.Content[i+1]
		if name == "" {
			return &ValidationError{Path: path, Detail: "metric name must be a non-empty string"}
		}
		metric, err := decodeMetric(path, name, def)
		if err != nil {
			return err
		}
		out[name] = metric
	}
	return nil
}

func decodeMetric(path, name string, node *yaml.Node) (Metric, error) {
	metric := Metric{Period: DefaultPeriod}

	if node.Kind != yaml.MappingNode {
		return metric, &ValidationError{Path: path, Detail: fmt.Sprintf("metric %q is not a mapping", name)}
	}

	sawQuery := false
	for i := 0; i < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "query":
			sawQuery = true
			if err := value.Decode(&metric.Query); err != nil || metric.Query == "" {
				return metric, &ValidationError{Path: path, Detail: fmt.Sprintf("metric %q: query must be a non-empty string", name)}
			}
		case "unit":
			if err := value.Decode(&metric.Unit); err != nil {
				return metric, &ValidationError{Path: path, Detail: fmt.Sprintf("metric %q: unit must be a string", name)}
			}
		case "period":
			if err := value.Decode(&metric.Period); err != nil || metric.Period <= 0 {
				return metric, &ValidationError{Path: path, Detail: fmt.Sprintf("metric %q: period must be a positive integer", name)}
			}
		default:
			return metric, &ValidationError{Path: path, Detail: fmt.Sprintf("metric %q: unknown key %q", name, key.Value)}
		}
	}

	if !sawQuery {
		return metric, &ValidationError{Path: path, Detail: fmt.Sprintf("metric %q: query is required", name)}
	}
	return metric, nil
}
