// Package models defines the core data structures used throughout the application.
package models

import (
	"context"
)

// DefaultOrgID is the tenant used when requests carry no organization.
const DefaultOrgID = "default"

// Tenant identifies the organization a request acts on behalf of.
type Tenant struct {
	OrgID   string `json:"org_id"`
	Subject string `json:"subject,omitempty"`
}

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// TenantKey is the context key for the request tenant.
	TenantKey ContextKey = "tenant"
)

// WithTenant returns a context carrying the tenant.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, TenantKey, t)
}

// GetOrgID extracts the organization ID from the context.
//
// It returns DefaultOrgID when no tenant is attached.
func GetOrgID(ctx context.Context) string {
	t, ok := ctx.Value(TenantKey).(*Tenant)
	if !ok || t.OrgID == "" {
		return DefaultOrgID
	}
	return t.OrgID
}
