package repository

import (
	"context"
	"embed"
	"fmt"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	ComponentPeripheral = "peripheral"
	ComponentCentral    = "central"
)

// Migrate применяет схему компонента. Скрипты идемпотентны (IF NOT EXISTS).
func Migrate(ctx context.Context, db DB, component string) error {
	switch component {
	case ComponentPeripheral, ComponentCentral:
	default:
		return fmt.Errorf("unknown component %q", component)
	}

	script, err := migrationsFS.ReadFile("migrations/" + component + ".sql")
	if err != nil {
		return fmt.Errorf("read %s schema: %w", component, err)
	}

	if _, err := db.Exec(ctx, string(script)); err != nil {
		return fmt.Errorf("apply %s schema: %w", component, err)
	}
	return nil
}
