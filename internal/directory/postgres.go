package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/callvoice/internal/tenant"
)

const pgUniqueViolation = "23505"

// PostgresDirectory reads tenants and tracks call lifecycle in the tables
// created by the storage migrations.
type PostgresDirectory struct {
	pool     *pgxpool.Pool
	defaults tenant.Credentials
}

func NewPostgresDirectory(pool *pgxpool.Pool, defaults tenant.Credentials) *PostgresDirectory {
	return &PostgresDirectory{pool: pool, defaults: defaults}
}

func (d *PostgresDirectory) RegisterCall(ctx context.Context, call Call) (Call, error) {
	call.ID = strings.TrimSpace(call.ID)
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if strings.TrimSpace(call.TenantID) == "" {
		call.TenantID = d.defaults.TenantID
	}
	call.Status = StatusRinging
	call.StartedAt = time.Now().UTC()
	call.ConnectedAt = nil
	call.EndedAt = nil

	_, err := d.pool.Exec(ctx,
		`INSERT INTO call_sessions (id, tenant_id, from_number, to_number, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		call.ID, call.TenantID, call.From, call.To, string(call.Status), call.StartedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Call{}, fmt.Errorf("%w: %s", ErrCallExists, call.ID)
		}
		return Call{}, fmt.Errorf("insert call: %w", err)
	}
	return call, nil
}

func (d *PostgresDirectory) LookupCall(ctx context.Context, callID string) (Call, error) {
	var call Call
	var status string
	err := d.pool.QueryRow(ctx,
		`SELECT id, tenant_id, from_number, to_number, status, started_at, connected_at, ended_at
		 FROM call_sessions WHERE id=$1`,
		callID,
	).Scan(&call.ID, &call.TenantID, &call.From, &call.To, &status, &call.StartedAt, &call.ConnectedAt, &call.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	if err != nil {
		return Call{}, fmt.Errorf("lookup call: %w", err)
	}
	call.Status = Status(status)
	return call, nil
}

func (d *PostgresDirectory) ListCalls(ctx context.Context, q ListQuery) ([]Call, int, error) {
	q = q.normalized()
	var total int
	if err := d.pool.QueryRow(ctx,
		`SELECT count(*) FROM call_sessions
		 WHERE ($1 = '' OR tenant_id = $1) AND (NOT $2 OR ended_at IS NULL)`,
		q.TenantID, q.Active,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count calls: %w", err)
	}

	rows, err := d.pool.Query(ctx,
		`SELECT id, tenant_id, from_number, to_number, status, started_at, connected_at, ended_at
		 FROM call_sessions
		 WHERE ($1 = '' OR tenant_id = $1) AND (NOT $2 OR ended_at IS NULL)
		 ORDER BY started_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		q.TenantID, q.Active, q.Limit, q.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	out := make([]Call, 0, q.Limit)
	for rows.Next() {
		var call Call
		var status string
		if err := rows.Scan(&call.ID, &call.TenantID, &call.From, &call.To, &status, &call.StartedAt, &call.ConnectedAt, &call.EndedAt); err != nil {
			return nil, 0, fmt.Errorf("scan call: %w", err)
		}
		call.Status = Status(status)
		out = append(out, call)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list calls: %w", err)
	}
	return out, total, nil
}

func (d *PostgresDirectory) MarkConnected(ctx context.Context, callID string) error {
	call, err := d.LookupCall(ctx, callID)
	if err != nil {
		return err
	}
	if call.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrCallEnded, callID)
	}
	_, err = d.pool.Exec(ctx,
		`UPDATE call_sessions SET status=$2, connected_at=now()
		 WHERE id=$1 AND status=$3`,
		callID, string(StatusInProgress), string(StatusRinging),
	)
	if err != nil {
		return fmt.Errorf("mark call connected: %w", err)
	}
	return nil
}

func (d *PostgresDirectory) EndCall(ctx context.Context, callID string, status Status) error {
	if !status.Terminal() {
		status = StatusCompleted
	}
	tag, err := d.pool.Exec(ctx,
		`UPDATE call_sessions SET status=$2, ended_at=now()
		 WHERE id=$1 AND ended_at IS NULL`,
		callID, string(status),
	)
	if err != nil {
		return fmt.Errorf("end call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already ended; only the former is an error.
		if _, err := d.LookupCall(ctx, callID); err != nil {
			return err
		}
	}
	return nil
}

func (d *PostgresDirectory) RecordDTMF(ctx context.Context, callID, digit string) error {
	if !ValidDigit(digit) {
		return fmt.Errorf("%w: %q", ErrInvalidDigit, digit)
	}
	_, err := d.pool.Exec(ctx,
		`INSERT INTO dtmf_events (call_id, digit) VALUES ($1, $2)`,
		callID, digit,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
		}
		return fmt.Errorf("record dtmf: %w", err)
	}
	return nil
}

func (d *PostgresDirectory) TenantCredentials(ctx context.Context, tenantID string) (tenant.Credentials, error) {
	creds := tenant.Credentials{TenantID: tenantID}
	err := d.pool.QueryRow(ctx,
		`SELECT azure_speech_key, azure_speech_region, language, voice_name, dify_api_key, dify_endpoint
		 FROM tenants WHERE id=$1`,
		tenantID,
	).Scan(&creds.SpeechKey, &creds.SpeechRegion, &creds.Language, &creds.VoiceName, &creds.ReplyAPIKey, &creds.ReplyEndpoint)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return tenant.Credentials{}, fmt.Errorf("load tenant credentials: %w", err)
	}
	return creds.WithDefaults(d.defaults), nil
}

func (d *PostgresDirectory) TenantGreeting(ctx context.Context, tenantID string) (string, error) {
	var greeting string
	err := d.pool.QueryRow(ctx, `SELECT greeting_message FROM tenants WHERE id=$1`, tenantID).Scan(&greeting)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("load tenant greeting: %w", err)
	}
	if strings.TrimSpace(greeting) == "" {
		return DefaultGreeting, nil
	}
	return greeting, nil
}

// Close is a no-op; the pool is owned by the caller.
func (d *PostgresDirectory) Close() error { return nil }
