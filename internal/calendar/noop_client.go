package calendar

import (
	"context"
	"time"
)

// NoopClient is used for every shop when the process has no calendar
// base URL configured (see main.go). Every slot is
// reported free and event ids are synthesized locally so the rest of the
// commit protocol runs unchanged.
type NoopClient struct{}

func NewNoopClient() *NoopClient { return &NoopClient{} }

func (c *NoopClient) OccupiedIntervals(ctx context.Context, calendarID string, date time.Time) ([]OccupiedInterval, error) {
	return nil, nil
}

func (c *NoopClient) CreateEvent(ctx context.Context, req CreateEventRequest, capacity int) (string, error) {
	return "local:" + req.GKey, nil
}

func (c *NoopClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	return nil
}
