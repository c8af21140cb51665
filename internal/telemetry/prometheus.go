package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"alertresolver/internal/clock"
	"alertresolver/internal/config"
	"alertresolver/internal/domain"
	"alertresolver/internal/templatefmt"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// queryView is the data passed to telemetry query templates.
type queryView struct {
	SiteID         string
	ConnectorID    string
	ConnectionType string
	Window         time.Duration
}

// PrometheusSource evaluates instant PromQL queries rendered per connector.
// Params: Prometheus API client, query templates, timeout, and clock.
// Returns: telemetry source for built-in alert types.
type PrometheusSource struct {
	api      v1.API
	query    *template.Template
	adxQuery *template.Template
	timeout  time.Duration
	clock    clock.Clock
}

// NewPrometheusSource builds Prometheus HTTP API client and compiles query templates.
// Params: telemetry config and clock.
// Returns: source or config error.
func NewPrometheusSource(cfg config.TelemetryConfig, clk clock.Clock) (*PrometheusSource, error) {
	if strings.TrimSpace(cfg.PrometheusURL) == "" {
		return nil, errors.New("telemetry prometheus_url is required")
	}
	client, err := api.NewClient(api.Config{Address: cfg.PrometheusURL})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	query, err := templatefmt.Parse("telemetry.query", cfg.Query)
	if err != nil {
		return nil, err
	}
	adxQuery, err := templatefmt.Parse("telemetry.adx_query", cfg.ADXQuery)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &PrometheusSource{
		api:      v1.NewAPI(client),
		query:    query,
		adxQuery: adxQuery,
		timeout:  time.Duration(cfg.TimeoutSec) * time.Second,
		clock:    clk,
	}, nil
}

// MessageCount sums the query result for one connector over the window.
// ADX-enabled connectors use the ADX query template.
func (s *PrometheusSource) MessageCount(ctx context.Context, connector domain.ConnectorConfig, window time.Duration) (float64, error) {
	tmpl := s.query
	if connector.ADXEnabled {
		tmpl = s.adxQuery
	}
	query, err := templatefmt.Render(tmpl, queryView{
		SiteID:         strings.TrimSpace(connector.SiteID),
		ConnectorID:    strings.TrimSpace(connector.ConnectorID),
		ConnectionType: strings.TrimSpace(connector.ConnectionType),
		Window:         window,
	})
	if err != nil {
		return 0, fmt.Errorf("render telemetry query: %w", err)
	}

	var opts []v1.Option
	if s.timeout > 0 {
		opts = append(opts, v1.WithTimeout(s.timeout))
	}
	value, _, err := s.api.Query(ctx, query, s.clock.Now(), opts...)
	if err != nil {
		return 0, fmt.Errorf("prometheus query %q: %w", query, err)
	}
	return sumValue(value)
}

// sumValue reduces an instant query result to one number; an empty vector counts as zero.
func sumValue(value model.Value) (float64, error) {
	switch typed := value.(type) {
	case model.Vector:
		var total float64
		for _, sample := range typed {
			total += float64(sample.Value)
		}
		return total, nil
	case *model.Scalar:
		return float64(typed.Value), nil
	default:
		return 0, fmt.Errorf("unsupported prometheus result type %s", value.Type())
	}
}
