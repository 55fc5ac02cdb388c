package model

import "time"

// UsageEvent records a single authorized API call made with a credential.
// Events are append-only: once recorded they are never mutated or deleted by
// this service. Retention and cleanup are an external concern.
type UsageEvent struct {
	ID             string    `json:"id" db:"id"`
	CredentialID   string    `json:"credential_id" db:"credential_id"`
	Endpoint       string    `json:"endpoint" db:"endpoint"`
	Method         string    `json:"method" db:"method"`
	StatusCode     int       `json:"status_code" db:"status_code"`
	ResponseTimeMs int64     `json:"response_time_ms" db:"response_time_ms"`
	Timestamp      time.Time `json:"timestamp" db:"created_at"`
}
