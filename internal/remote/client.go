// Package remote implements the HTTP client for the clinic service, the
// collaborator that owns appointments, schedule configuration and the
// authoritative conflict rules.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/drmarcocomper-ui/prontio-agenda/internal/agenda"
)

// ErrUnavailable wraps every transport-level failure so callers can treat
// network trouble uniformly.
var ErrUnavailable = errors.New("clinic service unavailable")

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type listResponse struct {
	Items []agenda.Appointment `json:"items"`
}

func (c *Client) ListAppointments(ctx context.Context, periodStart, periodEnd string, f agenda.Filters) ([]agenda.Appointment, error) {
	q := url.Values{}
	q.Set("period_start", periodStart)
	q.Set("period_end", periodEnd)
	if f.Status != "" {
		q.Set("status", f.Status)
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/appointments?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) GetScheduleConfig(ctx context.Context) (agenda.ScheduleConfig, error) {
	var cfg agenda.ScheduleConfig
	if err := c.do(ctx, http.MethodGet, "/schedule-config", nil, &cfg); err != nil {
		return agenda.ScheduleConfig{}, err
	}
	return cfg, nil
}

type conflictResponse struct {
	Conflicts []agenda.RemoteOverlap `json:"conflicts"`
}

// ValidateConflict asks the service whether the candidate overlaps existing
// records. A structured conflict comes back as *agenda.ConflictError; any
// other failure is transport-level and wraps ErrUnavailable.
func (c *Client) ValidateConflict(ctx context.Context, cand agenda.Candidate) error {
	body, err := json.Marshal(cand)
	if err != nil {
		return fmt.Errorf("encode candidate: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/appointments/validate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		var cr conflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return fmt.Errorf("%w: undecodable conflict payload: %v", ErrUnavailable, err)
		}
		return &agenda.ConflictError{Conflicts: cr.Conflicts}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("%w: validate returned status %d", ErrUnavailable, resp.StatusCode)
	}
}

func (c *Client) CreateAppointment(ctx context.Context, a agenda.Appointment) error {
	return c.do(ctx, http.MethodPost, "/appointments", a, nil)
}

func (c *Client) UpdateAppointment(ctx context.Context, id uuid.UUID, patch agenda.Appointment) error {
	return c.do(ctx, http.MethodPut, "/appointments/"+id.String(), patch, nil)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (c *Client) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) error {
	return c.do(ctx, http.MethodPost, "/appointments/"+id.String()+"/cancel", cancelRequest{Reason: reason}, nil)
}

func (c *Client) CreateBlock(ctx context.Context, b agenda.Appointment) error {
	return c.do(ctx, http.MethodPost, "/blocks", b, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s returned status %d: %s", ErrUnavailable, method, path, resp.StatusCode, detail)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
	}
	return nil
}
