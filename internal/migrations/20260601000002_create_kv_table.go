package migrations

import (
	"context"
	"fmt"

	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260601000002, down_20260601000002)
}

// up_20260601000002 creates the TTL-scoped key/value table
func up_20260601000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating kv table...")

	_, err := db.NewCreateTable().
		Model((*models.KVEntry)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}

	fmt.Println(" OK")
	return nil
}

// down_20260601000002 drops the key/value table
func down_20260601000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping kv table...")

	_, err := db.NewDropTable().
		Model((*models.KVEntry)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop kv table: %w", err)
	}

	fmt.Println(" OK")
	return nil
}
