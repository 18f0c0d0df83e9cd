package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// DBPool abstracts the pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const createThoughtTableSQL = `
	CREATE TABLE IF NOT EXISTS thought_records (
		session_id TEXT        NOT NULL,
		seq        INT         NOT NULL,
		agent      TEXT        NOT NULL,
		content    TEXT        NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`

const insertThoughtSQL = `
	INSERT INTO thought_records (session_id, seq, agent, content, created_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (session_id, seq) DO NOTHING`

// PGStore persists thought records to PostgreSQL. It implements
// journal.Sink; insert failures are logged and swallowed so a database
// outage never stalls the device loop.
type PGStore struct {
	pool      DBPool
	sessionID string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewPGStore verifies the connection and ensures the schema exists.
func NewPGStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PGStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createThoughtTableSQL); err != nil {
		return nil, fmt.Errorf("failed to ensure thought_records table: %w", err)
	}
	return &PGStore{
		pool:      pool,
		sessionID: uuid.NewString(),
		timeout:   5 * time.Second,
		logger:    logger.Named("pgstore"),
	}, nil
}

// SessionID identifies this session's rows.
func (s *PGStore) SessionID() string { return s.sessionID }

// Record implements journal.Sink.
func (s *PGStore) Record(rec schemas.ThoughtRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, insertThoughtSQL,
		s.sessionID, rec.Seq, rec.Agent, rec.Content, rec.Timestamp.UTC())
	if err != nil {
		s.logger.Warn("Failed to persist thought record",
			zap.Int("seq", rec.Seq),
			zap.Error(err),
		)
	}
}

// Close releases the underlying pool.
func (s *PGStore) Close() {
	s.pool.Close()
}
