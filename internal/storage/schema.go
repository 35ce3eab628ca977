// Package storage holds the Postgres repositories for appointments and
// queue tickets. All multi-step invariants (overlap check + insert, queue
// numbering, single-active-ticket claim, ticket/appointment cascades) run
// inside a single transaction here; the engines never see partial state.
package storage

import (
	"context"
	_ "embed"

	"github.com/clinicops/appointments/libs/db"
)

//go:embed schema.sql
var schemaDDL string

// EnsureSchema applies the idempotent DDL. Meant for service startup and
// integration test setup; production migrations can run the same file.
func EnsureSchema(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schemaDDL)
	return err
}
