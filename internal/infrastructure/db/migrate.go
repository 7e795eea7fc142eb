package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/musaver/admintaxmahir-sub002/internal/infrastructure/db/models"
)

const statusCheckSQL = `
DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'import_jobs_status_check') THEN
    ALTER TABLE import_jobs ADD CONSTRAINT import_jobs_status_check
      CHECK (status IN ('pending','processing','completed','failed'));
  END IF;
END $$;
`

// Migrate creates or updates the import tables.
func Migrate(ctx context.Context, db *gorm.DB) error {
	tx := db.WithContext(ctx)
	if err := tx.AutoMigrate(&models.ImportJob{}, &models.Product{}, &models.User{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := tx.Exec(statusCheckSQL).Error; err != nil {
		return fmt.Errorf("add status check: %w", err)
	}
	return nil
}
