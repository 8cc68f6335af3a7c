package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/bannerforge/bannerforge/internal/generation"
)

// ErrUnknownJob is returned when the upstream no longer recognizes a job id,
// e.g. after it expired or was evicted between restarts.
var ErrUnknownJob = errors.New("unknown job id")

// ClientConfig configures the upstream REST client.
type ClientConfig struct {
	BaseURL string
	Token   string // bearer credential, optional
	Timeout time.Duration
}

// Client is the upstream REST client used to submit generation jobs and read
// their status.
type Client struct {
	http *resty.Client
}

// NewClient creates the upstream client. The resty client rides on a
// retryablehttp transport so transient network errors inside one call are
// retried before they surface.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "bannerforge/1.0")
	rc.SetTransport(retryClient.StandardClient().Transport)
	if cfg.Token != "" {
		rc.SetAuthToken(cfg.Token)
	}

	return &Client{http: rc}
}

// StartJob submits a generation request under jobID.
func (c *Client) StartJob(ctx context.Context, jobID string, req generation.Request) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"job_id":  jobID,
			"prompt":  req.Prompt,
			"kind":    req.Kind,
			"context": req.Context,
		}).
		Post("/jobs")
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("submit job: upstream returned %s", resp.Status())
	}
	return nil
}

// Status reads the current job status. A 404 maps to ErrUnknownJob.
func (c *Client) Status(ctx context.Context, jobID string) (*generation.StatusReport, error) {
	var report generation.StatusReport
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&report).
		Get("/jobs/" + jobID + "/status")
	if err != nil {
		return nil, fmt.Errorf("status poll: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrUnknownJob
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status poll: upstream returned %s", resp.Status())
	}
	return &report, nil
}
