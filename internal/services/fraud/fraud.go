package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"eventix/utils"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NoPriorPurchaseHours is reported for users who never bought a ticket.
const NoPriorPurchaseHours = 24.0

type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictBlock
)

func (v Verdict) String() string {
	if v == VerdictBlock {
		return "block"
	}
	return "allow"
}

// Features is the classifier input, sent in this exact order.
type Features struct {
	TotalAmount            decimal.Decimal
	TotalQuantity          int
	HoursSinceLastPurchase float64
	FailedAttempts         int
}

func (f Features) Vector() []float64 {
	amount, _ := f.TotalAmount.Float64()
	return []float64{amount, float64(f.TotalQuantity), f.HoursSinceLastPurchase, float64(f.FailedAttempts)}
}

// HoursSince reports the hours elapsed since last, or the sentinel when
// there is no prior purchase.
func HoursSince(last *time.Time, now time.Time) float64 {
	if last == nil || last.IsZero() {
		return NoPriorPurchaseHours
	}
	return now.Sub(*last).Hours()
}

type Config struct {
	BaseURL string        `json:"baseUrl" mapstructure:"base_url"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

type Client struct {
	// baseURL is the classifier service root, e.g. http://fraud:5000.
	baseURL string

	hc      *http.Client
	breaker *utils.CircuitBreaker
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Prediction *int `json:"prediction"`
}

func New(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("fraud: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: utils.NewCircuitBreaker("fraud", utils.WithTrip(5, 0.5)),
	}, nil
}

// Screen asks the one-class SVM for a verdict. Any failure to get a clean
// 1 or -1 back is an error; callers must not treat it as a pass.
func (c *Client) Screen(ctx context.Context, f Features) (Verdict, error) {
	res, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.predict(ctx, f.Vector())
	})
	if err != nil {
		return VerdictBlock, err
	}

	switch res.(int) {
	case 1:
		return VerdictAllow, nil
	case -1:
		return VerdictBlock, nil
	default:
		return VerdictBlock, fmt.Errorf("fraud: unexpected prediction %d", res.(int))
	}
}

func (c *Client) predict(ctx context.Context, features []float64) (int, error) {
	body, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		return 0, fmt.Errorf("fraud: json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict/ocsvm", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("fraud: http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fraud: hc.Do: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("fraud: io.ReadAll: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fraud: classifier returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out predictResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("fraud: json.Unmarshal: %w", err)
	}
	if out.Prediction == nil {
		return 0, fmt.Errorf("fraud: response has no prediction")
	}
	return *out.Prediction, nil
}
