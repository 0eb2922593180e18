package training

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// PlotPublisher posts plot data to a plotting service.
type PlotPublisher struct {
	baseURL    string
	httpClient *http.Client
}

// PlottingResponse represents the response from the plotting service
type PlottingResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	PlotURL   string `json:"plot_url,omitempty"`
	ViewURL   string `json:"view_url,omitempty"`
	PlotID    string `json:"plot_id,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewPlotPublisher creates a publisher for the service at baseURL.
func NewPlotPublisher(baseURL string, timeout time.Duration) *PlotPublisher {
	return &PlotPublisher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts one plot to /api/plot.
func (p *PlotPublisher) Send(ctx context.Context, plot PlotData) (*PlottingResponse, error) {
	body, err := json.Marshal(plot)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal plot data")
	}

	url := fmt.Sprintf("%s/api/plot", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create HTTP request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "segtrain")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send HTTP request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	var out PlottingResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, errors.Wrapf(err, "failed to parse response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return &out, errors.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, out.Message)
	}
	return &out, nil
}

// CheckHealth checks if the plotting service is available
func (p *PlotPublisher) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return errors.Wrap(err, "failed to create health check request")
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send health check request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}
