package directory

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/callvoice/internal/tenant"
)

// New returns a postgres directory when a pool is available, otherwise an
// in-memory one seeded only with the default credentials.
func New(pool *pgxpool.Pool, defaults tenant.Credentials) Directory {
	if pool == nil {
		return NewInMemoryDirectory(defaults)
	}
	return NewPostgresDirectory(pool, defaults)
}
