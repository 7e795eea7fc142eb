package models

import "time"

// User rows are written by the pgx writer; the model carries the schema.
type User struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	TenantID  string  `gorm:"type:text;not null;index:idx_users_tenant_email,priority:1"`
	Name      string  `gorm:"size:255;not null"`
	Email     string  `gorm:"size:320;not null;index:idx_users_tenant_email,priority:2"`
	Phone     *string `gorm:"size:32"`
	Role      string  `gorm:"size:32;not null;default:'customer'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string {
	return "users"
}
