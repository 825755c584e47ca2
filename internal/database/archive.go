package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bubbleboard/internal/metrics"
	"bubbleboard/internal/model"
)

const archiveTimeout = 5 * time.Second

// Archive mirrors accepted messages into MySQL. It is a secondary copy;
// the JSON snapshot stays authoritative.
type Archive struct {
	db     *sql.DB
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewArchive wraps db. A nil db gives an archive that records nothing.
func NewArchive(db *sql.DB, logger zerolog.Logger) *Archive {
	return &Archive{
		db:     db,
		logger: logger.With().Str("component", "archive").Logger(),
	}
}

// Record inserts m in the background. Failures are logged, never returned.
func (a *Archive) Record(m model.Message) {
	if a == nil || a.db == nil {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()

		if err := a.Insert(ctx, m); err != nil {
			metrics.PersistenceFailures.WithLabelValues("archive").Inc()
			a.logger.Error().Err(err).Msg("failed to archive message")
		}
	}()
}

// Insert writes m synchronously.
func (a *Archive) Insert(ctx context.Context, m model.Message) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO messages (text, email, ip, created_at) VALUES (?, ?, ?, ?)",
		m.Text, nullString(m.Email), nullString(m.IP), m.Time.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Wait blocks until in-flight Record calls finish.
func (a *Archive) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}

// Count returns the number of archived rows.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
