package tenant

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/closedesk/closedesk/internal/logging"
	"github.com/closedesk/closedesk/internal/metrics"
)

// Strategy names, used for logging and metrics labels.
const (
	StrategySubdomain    = "subdomain"
	StrategyCustomDomain = "custom_domain"
	StrategyHeader       = "header"
	StrategyQuery        = "query"
	StrategyUserContext  = "user_context"
	StrategyDefault      = "default"
)

// TenantIDHeader is the header checked by the header strategy.
const TenantIDHeader = "X-Tenant-ID"

// tenantQueryParam is the query parameter checked by the query strategy.
const tenantQueryParam = "tenant"

// strategy attempts to map a request to a tenant. Returning (nil, nil) means
// "no match, try the next one"; errors are logged and treated the same way.
type strategy struct {
	name    string
	resolve func(ctx context.Context, r *http.Request) (*Tenant, error)
}

// Resolver maps inbound requests to tenants using a fixed-priority strategy
// chain: subdomain, custom domain, X-Tenant-ID header, tenant query
// parameter, authenticated-user context (reserved), then a configured
// default tenant. The first match wins; the order is load-bearing and must
// not be changed.
type Resolver struct {
	store           Store
	defaultTenantID string
	reserved        map[string]bool
	chain           []strategy
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithDefaultTenant sets the fallback tenant id used when no other strategy
// matches. An empty id disables the fallback.
func WithDefaultTenant(id string) ResolverOption {
	return func(r *Resolver) {
		r.defaultTenantID = id
	}
}

// WithReservedSubdomains overrides the host labels that are never treated as
// tenant subdomains.
func WithReservedSubdomains(labels []string) ResolverOption {
	return func(r *Resolver) {
		r.reserved = make(map[string]bool, len(labels))
		for _, l := range labels {
			r.reserved[strings.ToLower(l)] = true
		}
	}
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:    store,
		reserved: map[string]bool{"www": true, "api": true, "localhost": true},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.chain = []strategy{
		{StrategySubdomain, r.bySubdomain},
		{StrategyCustomDomain, r.byCustomDomain},
		{StrategyHeader, r.byHeader},
		{StrategyQuery, r.byQueryParam},
		{StrategyUserContext, r.byUserContext},
		{StrategyDefault, r.byDefault},
	}
	return r
}

// Resolve runs the strategy chain and returns the matched tenant along with
// the name of the strategy that found it. A nil tenant with empty strategy
// means the request has no tenant context, which is not an error here; only
// routes that require a tenant reject such requests.
//
// Store failures never fail resolution: they are logged and the chain moves
// on, degrading to "no tenant" in the worst case.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (*Tenant, string) {
	for _, s := range r.chain {
		t, err := s.resolve(ctx, req)
		if err != nil && !errors.Is(err, ErrNotFound) {
			logging.L(ctx).Warn("tenant lookup failed, trying next strategy",
				"strategy", s.name,
				"error", err,
			)
			metrics.TenantResolutionFailures.WithLabelValues(s.name).Inc()
			continue
		}
		if t != nil {
			metrics.TenantResolutionsTotal.WithLabelValues(s.name).Inc()
			return t, s.name
		}
	}
	metrics.TenantResolutionsTotal.WithLabelValues("none").Inc()
	return nil, ""
}

// bySubdomain takes the first label of the host header and looks it up,
// skipping reserved labels like www/api/localhost.
func (r *Resolver) bySubdomain(ctx context.Context, req *http.Request) (*Tenant, error) {
	label := firstHostLabel(req.Host)
	if label == "" || r.reserved[label] {
		return nil, nil
	}
	t, err := r.store.GetBySubdomain(ctx, label)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return t, err
}

// byCustomDomain matches the full host header against custom domains.
func (r *Resolver) byCustomDomain(ctx context.Context, req *http.Request) (*Tenant, error) {
	host := stripPort(req.Host)
	if host == "" {
		return nil, nil
	}
	t, err := r.store.GetByCustomDomain(ctx, strings.ToLower(host))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return t, err
}

func (r *Resolver) byHeader(ctx context.Context, req *http.Request) (*Tenant, error) {
	id := req.Header.Get(TenantIDHeader)
	if id == "" {
		return nil, nil
	}
	t, err := r.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return t, err
}

func (r *Resolver) byQueryParam(ctx context.Context, req *http.Request) (*Tenant, error) {
	id := req.URL.Query().Get(tenantQueryParam)
	if id == "" {
		return nil, nil
	}
	t, err := r.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return t, err
}

// byUserContext is a reserved extension point for mapping an authenticated
// user to their tenant. Intentionally a no-op.
func (r *Resolver) byUserContext(context.Context, *http.Request) (*Tenant, error) {
	return nil, nil
}

func (r *Resolver) byDefault(ctx context.Context, _ *http.Request) (*Tenant, error) {
	if r.defaultTenantID == "" {
		return nil, nil
	}
	t, err := r.store.Get(ctx, r.defaultTenantID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return t, err
}

// firstHostLabel returns the lowercased first dot-separated label of a host
// header, with any port stripped.
func firstHostLabel(host string) string {
	host = stripPort(host)
	if host == "" {
		return ""
	}
	if i := strings.IndexByte(host, '.'); i >= 0 {
		host = host[:i]
	}
	return strings.ToLower(host)
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
