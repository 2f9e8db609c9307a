package migrations

import (
	"context"
	"fmt"

	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260601000001, down_20260601000001)
}

var iamModels = []any{
	(*models.Scope)(nil),
	(*models.Role)(nil),
	(*models.User)(nil),
	(*models.OAuthClient)(nil),
	(*models.Policy)(nil),
}

// up_20260601000001 creates the IAM entity tables
func up_20260601000001(ctx context.Context, db *bun.DB) error {
	for _, model := range iamModels {
		fmt.Printf(" [up] creating table for %T...", model)

		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}

		fmt.Println(" OK")
	}
	return nil
}

// down_20260601000001 drops the IAM entity tables
func down_20260601000001(ctx context.Context, db *bun.DB) error {
	for _, model := range iamModels {
		fmt.Printf(" [down] dropping table for %T...", model)

		_, err := db.NewDropTable().
			Model(model).
			IfExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop table for %T: %w", model, err)
		}

		fmt.Println(" OK")
	}
	return nil
}
