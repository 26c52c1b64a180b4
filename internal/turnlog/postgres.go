package turnlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists turn messages in the messages table. The schema is
// owned by the storage package migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) AppendTurnMessage(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, call_id, tenant_id, turn_id, role, content, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID,
		msg.CallID,
		msg.TenantID,
		msg.TurnID,
		string(msg.Role),
		msg.Content,
		msg.PIIRedacted,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append turn message: %w", err)
	}
	return nil
}

func (s *PostgresStore) Messages(ctx context.Context, callID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, call_id, tenant_id, turn_id, role, content, pii_redacted, created_at
		 FROM messages WHERE call_id=$1 ORDER BY created_at DESC LIMIT $2`,
		callID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0, 16)
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.CallID, &m.TenantID, &m.TurnID, &role, &m.Content, &m.PIIRedacted, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = Role(role)
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	// Newest-first from the query; callers read history oldest-first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// Close is a no-op; the pool is shared and closed by its owner.
func (s *PostgresStore) Close() error { return nil }
