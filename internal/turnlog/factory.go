package turnlog

import "github.com/jackc/pgx/v5/pgxpool"

// NewStore returns a postgres-backed store when a pool is available, otherwise
// an in-memory one. When redact is set, content is scrubbed before it is stored.
func NewStore(pool *pgxpool.Pool, redact bool) Store {
	var s Store
	if pool == nil {
		s = NewInMemoryStore()
	} else {
		s = NewPostgresStore(pool)
	}
	if redact {
		s = NewRedactingStore(s)
	}
	return s
}
