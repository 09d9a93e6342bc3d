package models

import (
	"strings"
	"time"
)

// Tenant is an independent storefront. Gateway credentials are optional; the
// admin store (tenant 0) always uses the process configuration.
type Tenant struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OwnerUserID   int64     `gorm:"column:owner_user_id;not null;uniqueIndex:ux_tenants_owner"`
	Name          string    `gorm:"column:name;type:text;not null"`
	PakasirSlug   *string   `gorm:"column:pakasir_slug;type:text"`
	PakasirAPIKey *string   `gorm:"column:pakasir_api_key;type:text"`
	QRISOnly      bool      `gorm:"column:qris_only;not null;default:false"`
	Active        bool      `gorm:"column:active;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// HasGatewayCredentials reports whether both slug and api key are set.
func (t Tenant) HasGatewayCredentials() bool {
	return t.PakasirSlug != nil && strings.TrimSpace(*t.PakasirSlug) != "" &&
		t.PakasirAPIKey != nil && strings.TrimSpace(*t.PakasirAPIKey) != ""
}
