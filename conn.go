package tenantq

import (
	"context"
	"strings"
	"unicode"

	ikeys "github.com/UniQw/tenantq/internal/keys"
	"github.com/UniQw/tenantq/internal/scripts"
	"github.com/redis/go-redis/v9"
)

// Scoped is the command subset available inside WithConn. It is satisfied by
// a dedicated *redis.Conn as well as by any redis.UniversalClient.
type Scoped interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// FactoryOption configures a ConnFactory.
type FactoryOption func(*ConnFactory)

// WithNamespace prefixes every key (e.g. "app1:"). Default is no prefix.
func WithNamespace(ns string) FactoryOption {
	return func(f *ConnFactory) { f.keys = ikeys.New(ns) }
}

// ConnFactory hands out tenant-scoped and admin handles over one Redis client.
type ConnFactory struct {
	rdb  redis.UniversalClient
	keys ikeys.Space
}

// NewConnFactory creates a factory over rdb.
func NewConnFactory(rdb redis.UniversalClient, opts ...FactoryOption) *ConnFactory {
	f := &ConnFactory{rdb: rdb, keys: ikeys.New("")}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Client returns the underlying client.
func (f *ConnFactory) Client() redis.UniversalClient { return f.rdb }

// Tenant validates tenantID and returns a handle bound to it.
func (f *ConnFactory) Tenant(tenantID string) (*TenantConn, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}
	return &TenantConn{f: f, tenant: tenantID}, nil
}

// Admin returns the non-tenant handle used for global keys and cross-tenant sweeps.
func (f *ConnFactory) Admin() *AdminConn { return &AdminConn{f: f} }

func validateTenant(id string) error {
	if id == "" {
		return ErrTenantRequired
	}
	if len(id) > 128 {
		return invalidf("tenant id longer than 128 bytes")
	}
	if strings.ContainsAny(id, ":*?[]{}\\") || strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return invalidf("tenant id %q contains a reserved character", id)
	}
	return nil
}

// TenantConn is a handle whose keys all live under tenant:<id>:.
type TenantConn struct {
	f      *ConnFactory
	tenant string
}

// ID returns the tenant id the handle is bound to.
func (c *TenantConn) ID() string { return c.tenant }

// Key returns tenant:<tenant>:<component>:<entity>:<id>.
func (c *TenantConn) Key(component, entity, id string) string {
	return c.f.keys.Tenant(c.tenant, component, entity, id)
}

// WithConn runs fn on a dedicated pooled connection when the client supports it.
func (c *TenantConn) WithConn(ctx context.Context, fn func(Scoped) error) error {
	return withConn(c.f.rdb, fn)
}

// AdminConn is the non-tenant handle.
type AdminConn struct {
	f *ConnFactory
}

// WithConn runs fn on a dedicated pooled connection when the client supports it.
func (a *AdminConn) WithConn(ctx context.Context, fn func(Scoped) error) error {
	return withConn(a.f.rdb, fn)
}

// Ping checks store connectivity.
func (a *AdminConn) Ping(ctx context.Context) error {
	return a.f.rdb.Ping(ctx).Err()
}

// LoadScripts preloads every Lua script so the first call of each can use EVALSHA.
func (a *AdminConn) LoadScripts(ctx context.Context) error {
	for _, s := range scripts.All() {
		if err := s.Load(ctx, a.f.rdb).Err(); err != nil {
			return opErr("load scripts", "", "", err)
		}
	}
	return nil
}

// Tenants lists every tenant that ever enqueued a task.
func (a *AdminConn) Tenants(ctx context.Context) ([]string, error) {
	return a.f.rdb.SMembers(ctx, a.f.keys.Tenants()).Result()
}

// TaskTypes lists every task type that was ever enqueued.
func (a *AdminConn) TaskTypes(ctx context.Context) ([]string, error) {
	return a.f.rdb.SMembers(ctx, a.f.keys.Types()).Result()
}

// withConn releases the dedicated connection on every path, including panics in fn.
func withConn(rdb redis.UniversalClient, fn func(Scoped) error) (err error) {
	c, ok := rdb.(*redis.Client)
	if !ok {
		return fn(rdb)
	}
	conn := c.Conn()
	defer func() {
		if cerr := conn.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	return fn(conn)
}
