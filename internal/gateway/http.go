package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-driver/internal/models"
)

const maxErrorBody = 4 << 10

// envelope is the response wrapper used by the fleet backend.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (e envelope) reason() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

// HTTPGateway implements ShiftGateway against the fleet backend REST API.
type HTTPGateway struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *log.Entry
}

// NewHTTPGateway creates a gateway for baseURL (e.g. http://host:8081/api)
// authenticated with the session's bearer token.
func NewHTTPGateway(baseURL string, session *models.Session, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	g := &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  log.WithField("component", "gateway"),
	}
	if session != nil {
		g.token = session.Token
		g.logger = g.logger.WithField("driver_id", session.DriverID)
	}
	return g
}

// GetShiftSchedules fetches the schedule windows.
func (g *HTTPGateway) GetShiftSchedules(ctx context.Context) (*ScheduleSet, error) {
	const op = "get shift schedules"

	var set ScheduleSet
	found, err := g.call(ctx, op, http.MethodGet, "/driver/shift-schedules", nil, &set)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &TransportError{Op: op, Err: errors.New("empty schedule response")}
	}
	return &set, nil
}

// GetMyShift fetches the driver's current shift. A null payload or an ended
// shift is reported as (nil, nil).
func (g *HTTPGateway) GetMyShift(ctx context.Context) (*models.ActiveShift, error) {
	var shift models.ActiveShift
	found, err := g.call(ctx, "get my shift", http.MethodGet, "/driver/shift/current", nil, &shift)
	if err != nil {
		return nil, err
	}
	if !found || !shift.IsActive() {
		return nil, nil
	}
	return &shift, nil
}

// ActivateShift requests a new shift.
func (g *HTTPGateway) ActivateShift(ctx context.Context) (*models.ActiveShift, error) {
	const op = "activate shift"

	var shift models.ActiveShift
	found, err := g.call(ctx, op, http.MethodPost, "/driver/shift/activate", struct{}{}, &shift)
	if err != nil {
		return nil, err
	}
	if !found || shift.ID == "" {
		return nil, &TransportError{Op: op, Err: errors.New("activation response carried no shift")}
	}
	if shift.Status == "" {
		shift.Status = models.ShiftStatusActive
	}
	return &shift, nil
}

// ReleaseShift ends shiftID.
func (g *HTTPGateway) ReleaseShift(ctx context.Context, shiftID string) error {
	path := "/driver/shift/" + url.PathEscape(shiftID) + "/release"
	_, err := g.call(ctx, "release shift", http.MethodPost, path, struct{}{}, nil)
	return err
}

// call performs one request and decodes the envelope's data into out. It
// reports whether data was present and non-null.
func (g *HTTPGateway) call(ctx context.Context, op, method, path string, body, out interface{}) (bool, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).WithFields(log.Fields{"op": op, "req_id": reqID}).Warn("Gateway request failed")
		return false, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	g.logger.WithFields(log.Fields{
		"op":     op,
		"req_id": reqID,
		"status": resp.StatusCode,
		"dur_ms": time.Since(start).Milliseconds(),
	}).Debug("Gateway response")

	if resp.StatusCode >= 400 {
		return false, classifyStatus(op, resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Success != nil && !*env.Success {
		reason := env.reason()
		if reason == "" {
			reason = "request declined"
		}
		return false, &RejectionError{Op: op, StatusCode: resp.StatusCode, Reason: reason}
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return true, nil
}

// classifyStatus maps an error status onto the taxonomy: business-rule 4xx
// responses are rejections, everything else is transport.
func classifyStatus(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	reason := strings.TrimSpace(string(raw))
	var env envelope
	if json.Unmarshal(raw, &env) == nil && env.reason() != "" {
		reason = env.reason()
	}
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}

	switch code := resp.StatusCode; {
	case code >= 500, code == http.StatusUnauthorized, code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return &TransportError{Op: op, StatusCode: code, Err: errors.New(reason)}
	default:
		return &RejectionError{Op: op, StatusCode: code, Reason: reason}
	}
}
