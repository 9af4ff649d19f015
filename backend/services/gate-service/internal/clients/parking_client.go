package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v4"

	"parkgate/backend/services/gate-service/internal/models"
)

// ErrBadResponse is returned when a 2xx body cannot be decoded. For a POST the request
// itself was accepted.
var ErrBadResponse = errors.New("clients: undecodable backend response")

// TokenSource hands out the bearer token for backend calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate drops stale so the next Token call refreshes. A token other than the
	// current one is ignored.
	Invalidate(stale string)
}

// RetryPolicy bounds the retries of idempotent reads. Writes are never retried.
type RetryPolicy struct {
	MaxTries        uint          `yaml:"maxTries" env:"GATE_BACKEND_RETRY_MAX_TRIES"`
	InitialInterval time.Duration `yaml:"initialInterval" env:"GATE_BACKEND_RETRY_INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"maxInterval" env:"GATE_BACKEND_RETRY_MAX_INTERVAL"`
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

func (p RetryPolicy) tries() uint {
	if p.MaxTries == 0 {
		return 3
	}
	return p.MaxTries
}

// SessionFilter narrows a session listing.
type SessionFilter struct {
	Statuses      []models.Status
	VehicleNumber string
}

// ReservationRequest books a slot ahead of arrival.
type ReservationRequest struct {
	VehicleNumber  string               `json:"vehicle_number"`
	VehicleType    string               `json:"vehicle_type,omitempty"`
	ZoneID         models.ID            `json:"zone_id"`
	InitialAmount  decimal.Decimal      `json:"initial_amount"`
	EstimatedTotal decimal.Decimal      `json:"estimated_total"`
	PaymentMethod  models.PaymentMethod `json:"payment_method"`
}

// ReservationResult is the backend's view of the new reservation.
type ReservationResult struct {
	SessionID         models.ID           `json:"session_id"`
	SlotNumber        null.String         `json:"slot_number"`
	BookedAt          null.Time           `json:"booked_at"`
	BookingExpiryTime null.Time           `json:"booking_expiry_time"`
	InitialAmount     decimal.NullDecimal `json:"initial_amount"`
}

// ScanEntryRequest admits a vehicle, either against a reservation or as a walk-in.
type ScanEntryRequest struct {
	SessionID     models.ID            `json:"session_id,omitempty"`
	VehicleNumber string               `json:"vehicle_number,omitempty"`
	VehicleType   string               `json:"vehicle_type,omitempty"`
	ZoneID        models.ID            `json:"zone_id,omitempty"`
	InitialAmount decimal.Decimal      `json:"initial_amount"`
	PaymentMethod models.PaymentMethod `json:"payment_method,omitempty"`
}

// ScanEntryResult echoes what the backend recorded at entry.
type ScanEntryResult struct {
	SessionID     models.ID           `json:"session_id"`
	InitialAmount decimal.NullDecimal `json:"initial_amount"`
	EntryTime     null.Time           `json:"entry_time"`
	SlotNumber    null.String         `json:"slot_number"`
}

// ScanExitRequest settles a session.
type ScanExitRequest struct {
	SessionID     models.ID            `json:"session_id,omitempty"`
	VehicleNumber string               `json:"vehicle_number,omitempty"`
	PaymentMethod models.PaymentMethod `json:"payment_method,omitempty"`
}

// ScanExitResult carries the backend's settlement figures, each of which may be absent.
type ScanExitResult struct {
	TotalAmount   decimal.NullDecimal `json:"total_amount"`
	InitialPaid   decimal.NullDecimal `json:"initial_paid"`
	FinalBalance  decimal.NullDecimal `json:"final_balance"`
	DurationHours decimal.NullDecimal `json:"duration_hours"`
	ExitTime      null.Time           `json:"exit_time"`
}

// ParkingClient talks to the parking backend REST API.
type ParkingClient struct {
	base   *BaseClient
	tokens TokenSource
	retry  RetryPolicy
	logger *zap.Logger
}

// NewParkingClient returns client. tokens may be nil for an unauthenticated backend.
func NewParkingClient(baseURL string, httpClient HTTPDoer, tokens TokenSource, retry RetryPolicy, logger *zap.Logger) *ParkingClient {
	return &ParkingClient{
		base:   NewBaseClient(baseURL, httpClient),
		tokens: tokens,
		retry:  retry,
		logger: logger,
	}
}

// GetZone fetches one zone.
func (c *ParkingClient) GetZone(ctx context.Context, id models.ID) (models.Zone, error) {
	var zone models.Zone
	err := c.get(ctx, fmt.Sprintf("zones/%s/", url.PathEscape(id.String())), &zone)
	return zone, err
}

// ListSlots lists the slots of a zone.
func (c *ParkingClient) ListSlots(ctx context.Context, zoneID models.ID) ([]models.Slot, error) {
	q := url.Values{"zone_id": {zoneID.String()}}
	var slots []models.Slot
	if err := c.getList(ctx, "slots/?"+q.Encode(), &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

// GetSession fetches one session.
func (c *ParkingClient) GetSession(ctx context.Context, id models.ID) (models.Session, error) {
	var session models.Session
	err := c.get(ctx, fmt.Sprintf("sessions/%s/", url.PathEscape(id.String())), &session)
	return session, err
}

// ListSessions issues one listing per requested status and concatenates the results.
func (c *ParkingClient) ListSessions(ctx context.Context, filter SessionFilter) ([]models.Session, error) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []models.Status{""}
	}
	var out []models.Session
	for _, status := range statuses {
		q := url.Values{}
		if status != "" {
			q.Set("status", string(status))
		}
		if filter.VehicleNumber != "" {
			q.Set("vehicle_number", filter.VehicleNumber)
		}
		path := "sessions/"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		var page []models.Session
		if err := c.getList(ctx, path, &page); err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	return out, nil
}

// CreateReservation books a slot. Not retried.
func (c *ParkingClient) CreateReservation(ctx context.Context, req ReservationRequest) (ReservationResult, error) {
	var res ReservationResult
	err := c.post(ctx, "sessions/reserve/", req, &res)
	return res, err
}

// ScanEntry admits a vehicle. Not retried.
func (c *ParkingClient) ScanEntry(ctx context.Context, req ScanEntryRequest) (ScanEntryResult, error) {
	var res ScanEntryResult
	err := c.post(ctx, "sessions/scan-entry/", req, &res)
	return res, err
}

// ScanExit settles a session. Not retried.
func (c *ParkingClient) ScanExit(ctx context.Context, req ScanExitRequest) (ScanExitResult, error) {
	var res ScanExitResult
	err := c.post(ctx, "sessions/scan-exit/", req, &res)
	return res, err
}

// CancelSession cancels a reserved or active session. Not retried.
func (c *ParkingClient) CancelSession(ctx context.Context, id models.ID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.post(ctx, fmt.Sprintf("sessions/%s/cancel/", url.PathEscape(id.String())), body, nil)
}

func (c *ParkingClient) get(ctx context.Context, path string, out interface{}) error {
	resp, err := c.fetch(ctx, path)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// getList accepts both a bare array and a paginated {"results": [...]} envelope.
func (c *ParkingClient) getList(ctx context.Context, path string, out interface{}) error {
	resp, err := c.fetch(ctx, path)
	if err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(resp.Body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var page struct {
			Results json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return fmt.Errorf("%w: GET %s: %v", ErrBadResponse, path, err)
		}
		trimmed = page.Results
	}
	if len(trimmed) == 0 {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrBadResponse, path, err)
	}
	return nil
}

// fetch performs a GET with bounded exponential backoff on transport failures and
// gateway errors. Rejections are returned at once.
func (c *ParkingClient) fetch(ctx context.Context, path string) (Response, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (Response, error) {
		attempt++
		resp, err := c.send(ctx, http.MethodGet, path, nil)
		if err != nil {
			c.logger.Debug("backend read failed", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
			return Response{}, err
		}
		if err := resp.Err(); err != nil {
			if IsUnavailable(err) {
				return Response{}, err
			}
			return Response{}, backoff.Permanent(err)
		}
		return resp, nil
	}, backoff.WithBackOff(c.retry.backOff()), backoff.WithMaxTries(c.retry.tries()))
}

func (c *ParkingClient) post(ctx context.Context, path string, in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, http.MethodPost, path, data)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	return resp.Decode(out)
}

// send attaches the bearer token. A 401 invalidates the token; only reads are replayed
// with a fresh one.
func (c *ParkingClient) send(ctx context.Context, method, path string, body []byte) (Response, error) {
	headers, token, err := c.authHeaders(ctx)
	if err != nil {
		return Response{}, err
	}
	resp, err := c.base.Do(ctx, method, path, body, headers)
	if err != nil || resp.Status != http.StatusUnauthorized || c.tokens == nil {
		return resp, err
	}

	c.tokens.Invalidate(token)
	if method != http.MethodGet {
		c.logger.Warn("backend rejected token on a write, not replaying",
			zap.String("method", method), zap.String("path", path))
		return resp, nil
	}
	headers, _, err = c.authHeaders(ctx)
	if err != nil {
		return Response{}, err
	}
	return c.base.Do(ctx, method, path, body, headers)
}

func (c *ParkingClient) authHeaders(ctx context.Context) (map[string]string, string, error) {
	if c.tokens == nil {
		return nil, "", nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: token: %v", ErrUnavailable, err)
	}
	return map[string]string{"Authorization": "Bearer " + token}, token, nil
}
