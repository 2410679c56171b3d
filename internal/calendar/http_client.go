package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/peluqueria/booking-engine/pkg/logger"
)

// HTTPClient talks to an external calendar provider over a small JSON/REST
// surface (day-range read, create-or-patch-by-private-property, delete).
// The provider's exact API is out of the core's scope (spec §1); this
// client is deliberately generic over any backend that exposes those
// three operations.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	logger     logger.Logger
}

func NewHTTPClient(baseURL string, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		logger:     log,
	}
}

type occupiedResponse struct {
	Intervals []OccupiedInterval `json:"intervals"`
}

func (c *HTTPClient) OccupiedIntervals(ctx context.Context, calendarID string, date time.Time) ([]OccupiedInterval, error) {
	url := fmt.Sprintf("%s/calendars/%s/days/%s/busy", c.baseURL, calendarID, date.Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building calendar read request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("calendar read failed", "error", err, "calendar_id", calendarID)
		return nil, fmt.Errorf("calendar read request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("calendar read returned status %d", resp.StatusCode)
	}

	var out occupiedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding calendar read response: %w", err)
	}
	return out.Intervals, nil
}

type createEventPayload struct {
	GKey          string    `json:"gkey"`
	ReservationID string    `json:"reservationId"`
	Summary       string    `json:"summary"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

type createEventResponse struct {
	EventID string `json:"eventId"`
}

// CreateEvent performs the idempotent create-or-patch-by-gkey, then the
// post-insert overlap recount the provider is responsible for (spec §4.3
// steps 4-5). A real provider enforces the recount server-side; this
// client surfaces whatever outcome it reports.
func (c *HTTPClient) CreateEvent(ctx context.Context, req CreateEventRequest, capacity int) (string, error) {
	body, err := json.Marshal(createEventPayload{
		GKey:          req.GKey,
		ReservationID: req.ReservationID,
		Summary:       req.Summary,
		Start:         req.Start,
		End:           req.End,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling calendar event: %w", err)
	}

	url := fmt.Sprintf("%s/calendars/%s/events?capacity=%d", c.baseURL, req.CalendarID, capacity)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building calendar create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calendar create request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		c.logger.Warn("calendar event lost capacity race", "gkey", req.GKey)
		return "", ErrCapacityExceeded
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("calendar create returned status %d", resp.StatusCode)
	}

	var out createEventResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding calendar create response: %w", err)
	}
	return out.EventID, nil
}

func (c *HTTPClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	url := fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL, calendarID, eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("building calendar delete request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("calendar delete failed", "error", err, "event_id", eventID)
		return fmt.Errorf("calendar delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("calendar delete returned status %d", resp.StatusCode)
	}
	return nil
}
