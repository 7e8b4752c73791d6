package models

import (
	"fmt"
	"time"
)

// Tenant is an isolated store account. Every pipeline operation and
// analytics query is scoped to exactly one tenant.
type Tenant struct {
	ID        string    `json:"id"`
	StoreName string    `json:"store_name"`
	Email     string    `json:"email"`
	// HashedPassword is the bcrypt hash, never serialized.
	HashedPassword []byte `json:"-"`
	Domain         string `json:"domain"`
	APIKey         string `json:"api_key,omitempty"`
	// Timezone is the tenant's reference zone for day-boundary
	// arithmetic, IANA name. Empty means UTC.
	Timezone  string    `json:"timezone,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required tenant fields.
func (t *Tenant) Validate() error {
	if t.StoreName == "" {
		return fmt.Errorf("tenant missing store_name")
	}
	if t.Email == "" {
		return fmt.Errorf("tenant missing email")
	}
	return nil
}
