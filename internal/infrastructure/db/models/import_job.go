package models

import (
	"time"

	"gorm.io/datatypes"
)

type ImportJob struct {
	ID                string         `gorm:"type:uuid;primaryKey"`
	TenantID          string         `gorm:"type:text;not null;index:idx_import_jobs_tenant_created,priority:1"`
	Type              string         `gorm:"type:text;not null"`
	FileName          string         `gorm:"type:text;not null"`
	BlobURL           string         `gorm:"type:text;not null"`
	Status            string         `gorm:"type:text;not null;index"`
	Checkpoint        string         `gorm:"type:text;not null;default:''"`
	RowCursor         int64          `gorm:"not null;default:0"`
	TotalRecords      int64          `gorm:"not null;default:0"`
	ProcessedRecords  int64          `gorm:"not null;default:0"`
	SuccessfulRecords int64          `gorm:"not null;default:0"`
	FailedRecords     int64          `gorm:"not null;default:0"`
	Errors            datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	Results           datatypes.JSON `gorm:"type:jsonb"`
	CreatedBy         string         `gorm:"type:text;not null;default:''"`
	LeaseOwner        *string        `gorm:"type:text"`
	LeaseExpiresAt    *time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time `gorm:"index:idx_import_jobs_tenant_created,priority:2"`
	UpdatedAt         time.Time
}

func (ImportJob) TableName() string {
	return "import_jobs"
}
