package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/lacunahq/lacuna/internal/model"
)

// UsageStore is what the usage service needs from the store.
type UsageStore interface {
	AppendUsage(ctx context.Context, ev *model.UsageEvent) error
	QueryUsage(ctx context.Context, credentialID string, since time.Time) ([]model.UsageEvent, error)
}

// UsageService meters per-call usage of credentials. It holds no running
// counters: every query goes to the store, which keeps the service stateless
// and trivially restartable. Callers that need aggregates (requests in the
// last minute, say) derive them from Query.
type UsageService struct {
	store  UsageStore
	logger *slog.Logger
}

// NewUsageService creates a UsageService.
func NewUsageService(store UsageStore, logger *slog.Logger) *UsageService {
	return &UsageService{store: store, logger: logger}
}

// Record appends one usage event. Recording happens after the authorization
// decision and must never affect it: failures are logged and dropped.
func (u *UsageService) Record(ctx context.Context, credentialID, endpoint, method string, statusCode int, responseTimeMs int64) {
	ev := &model.UsageEvent{
		CredentialID:   credentialID,
		Endpoint:       endpoint,
		Method:         method,
		StatusCode:     statusCode,
		ResponseTimeMs: responseTimeMs,
	}
	if err := u.store.AppendUsage(ctx, ev); err != nil {
		u.logger.Error("failed to record usage event",
			"credential_id", credentialID, "endpoint", endpoint, "error", err)
	}
}

// Query returns the credential's usage events from the trailing window of
// windowDays days, most recent first.
func (u *UsageService) Query(ctx context.Context, credentialID string, windowDays int) ([]model.UsageEvent, error) {
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	return u.store.QueryUsage(ctx, credentialID, since)
}

// CountSince is a convenience aggregate derived from the store query: the
// number of events recorded for the credential in the trailing window. Used
// by the usage summary endpoint for requests-per-minute style figures.
func (u *UsageService) CountSince(ctx context.Context, credentialID string, window time.Duration) (int, error) {
	events, err := u.store.QueryUsage(ctx, credentialID, time.Now().UTC().Add(-window))
	if err != nil {
		return 0, err
	}
	return len(events), nil
}
