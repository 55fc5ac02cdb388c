package store

import "fmt"

// The DDL below sticks to types both SQLite and PostgreSQL accept unchanged
// (TEXT, INTEGER, BIGINT, BOOLEAN, TIMESTAMP), so one migration list serves
// both backends. Primary keys are UUIDv7 strings assigned by the store.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			digest TEXT UNIQUE NOT NULL,
			display_prefix TEXT NOT NULL,
			scopes_json TEXT NOT NULL DEFAULT '[]',
			rate_limit_per_minute INTEGER NOT NULL DEFAULT 60,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at TIMESTAMP,
			last_used_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}'
		)`,

		`CREATE TABLE IF NOT EXISTS usage_events (
			id TEXT PRIMARY KEY,
			credential_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			method TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			response_time_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS admins (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			last_login_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_credentials_digest ON credentials(digest)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_credential
			ON usage_events(credential_id, created_at)`,
	}

	// Every statement is IF NOT EXISTS, so running the list on an already
	// migrated database is a no-op.
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
