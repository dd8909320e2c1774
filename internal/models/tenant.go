package models

import (
	"time"

	"github.com/dmitrijs2005/gophvault/internal/cryptox"
)

// Tenant is the top-level isolation boundary.
type Tenant struct {
	// ID is the unique tenant identifier used in every record key.
	ID string
	// Name is a display name.
	Name string
	// Settings fixes the crypto parameters for every user and record.
	Settings TenantSettings
	// CreatedAt is the creation timestamp (UTC).
	CreatedAt time.Time
}

// TenantSettings holds the crypto configuration chosen at init time.
type TenantSettings struct {
	Algorithm cryptox.Algorithm `json:"algorithm"`
	KDF       cryptox.KDFParams `json:"kdf"`
}

// Namespace groups secrets within a tenant.
type Namespace struct {
	TenantID  string
	Name      string
	CreatedAt time.Time
}
