package keystoredb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE server_keys (
			server_id TEXT PRIMARY KEY NOT NULL,
			key       TEXT NOT NULL
		) STRICT;
	`); err != nil {
		return fmt.Errorf("create server_keys table: %w", err)
	}
	return nil
}
