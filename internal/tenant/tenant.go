package tenant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownTenant is returned when a tenant id has no authorized scope
var ErrUnknownTenant = errors.New("tenant: unknown")

// Scope is the set of sites and zones a tenant context may touch. An empty
// site or zone list with All set means every site and zone of the tenant.
type Scope struct {
	TenantID string   `yaml:"id" json:"tenant_id"`
	SiteIDs  []string `yaml:"sites" json:"site_ids,omitempty"`
	ZoneIDs  []string `yaml:"zones" json:"zone_ids,omitempty"`
	All      bool     `yaml:"all" json:"all"`
}

// AllowsZone reports whether the scope covers a zone
func (s Scope) AllowsZone(zoneID string) bool {
	if s.All {
		return true
	}
	for _, z := range s.ZoneIDs {
		if z == zoneID {
			return true
		}
	}
	return false
}

// AllowsSite reports whether the scope covers a site
func (s Scope) AllowsSite(siteID string) bool {
	if s.All {
		return true
	}
	for _, id := range s.SiteIDs {
		if id == siteID {
			return true
		}
	}
	return false
}

// Resolver maps a tenant id to its authorized scope
type Resolver interface {
	Resolve(ctx context.Context, tenantID string) (Scope, error)
}

// StaticResolver serves scopes from a fixed table
type StaticResolver struct {
	scopes map[string]Scope
}

// NewStaticResolver creates a resolver over the given scopes
func NewStaticResolver(scopes []Scope) *StaticResolver {
	m := make(map[string]Scope, len(scopes))
	for _, s := range scopes {
		m[s.TenantID] = s
	}
	return &StaticResolver{scopes: m}
}

// Resolve returns the scope for tenantID or ErrUnknownTenant
func (r *StaticResolver) Resolve(ctx context.Context, tenantID string) (Scope, error) {
	s, ok := r.scopes[tenantID]
	if !ok {
		return Scope{}, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	return s, nil
}

// Tenants returns the configured tenant ids in sorted order
func (r *StaticResolver) Tenants() []string {
	ids := make([]string, 0, len(r.scopes))
	for id := range r.scopes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OpenResolver grants full scope to any non-empty tenant id. It is used
// when no tenants file is configured and the broker ACL is the only gate.
type OpenResolver struct{}

// Resolve returns an unrestricted scope
func (OpenResolver) Resolve(ctx context.Context, tenantID string) (Scope, error) {
	if tenantID == "" {
		return Scope{}, fmt.Errorf("%w: empty tenant id", ErrUnknownTenant)
	}
	return Scope{TenantID: tenantID, All: true}, nil
}

type tenantsFile struct {
	Tenants []Scope `yaml:"tenants"`
}

// LoadFile reads a tenants YAML document into a StaticResolver
func LoadFile(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file: %w", err)
	}

	var f tenantsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tenants file: %w", err)
	}

	for i, s := range f.Tenants {
		if s.TenantID == "" {
			return nil, fmt.Errorf("tenant entry %d has no id", i)
		}
	}

	return NewStaticResolver(f.Tenants), nil
}
