// internal/probe/http.go
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/harborline/meridian/internal/region"
)

// maxReportBytes bounds how much of a provider response is read.
const maxReportBytes = 1 << 20

// reportSchema is enforced on every provider payload before decoding.
// Loosely shaped payloads never leak past this boundary.
const reportSchema = `{
	"type": "object",
	"required": ["subsystems"],
	"properties": {
		"region": {"type": "string"},
		"subsystems": {
			"type": "object",
			"minProperties": 1,
			"additionalProperties": {
				"type": "object",
				"required": ["status"],
				"properties": {
					"status": {"type": "string"},
					"detail": {"type": "string"}
				}
			}
		}
	}
}`

// HTTPConfig configures the HTTP prober.
type HTTPConfig struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
}

// DefaultHTTPConfig returns default configuration.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Timeout: 5 * time.Second,
	}
}

// HTTPProber queries a health-probe provider over HTTP. The provider serves
// GET {endpoint}/probe/{region} with a JSON report per subsystem.
type HTTPProber struct {
	cfg    *HTTPConfig
	client *http.Client
	schema *gojsonschema.Schema
	logger *zap.Logger
}

// NewHTTPProber creates a prober against the configured endpoint.
func NewHTTPProber(cfg *HTTPConfig, logger *zap.Logger) (*HTTPProber, error) {
	if cfg == nil {
		cfg = DefaultHTTPConfig()
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("probe endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(reportSchema))
	if err != nil {
		return nil, fmt.Errorf("compile report schema: %w", err)
	}

	return &HTTPProber{
		cfg:    cfg,
		client: client,
		schema: schema,
		logger: logger,
	}, nil
}

// Check implements Prober. Every call is bounded by the configured timeout.
func (p *HTTPProber) Check(ctx context.Context, reg region.Region) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/probe/%s", strings.TrimRight(p.cfg.Endpoint, "/"), reg)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", reg, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("probe %s: unexpected status %d", reg, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBytes))
	if err != nil {
		return nil, fmt.Errorf("probe %s: read report: %w", reg, err)
	}

	result, err := p.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("probe %s: validate report: %w", reg, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("probe %s: malformed report: %s", reg, strings.Join(msgs, "; "))
	}

	var report Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("probe %s: decode report: %w", reg, err)
	}
	if report.Region == "" {
		report.Region = reg.String()
	}
	if report.CheckedAt.IsZero() {
		report.CheckedAt = time.Now()
	}

	p.logger.Debug("probe completed",
		zap.Stringer("region", reg),
		zap.Int("subsystems", len(report.Subsystems)),
		zap.Int("failing", report.FailingCount()))

	return &report, nil
}
