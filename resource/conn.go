package resource

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Conn is one reusable handle to an external resource.
type Conn interface {
	// Ping verifies the connection is still usable.
	Ping(ctx context.Context) error
	// Close releases the underlying resource.
	Close() error
}

// Factory dials new connections for a named resource.
type Factory interface {
	Open(ctx context.Context) (Conn, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Conn, error)

func (f FactoryFunc) Open(ctx context.Context) (Conn, error) { return f(ctx) }

// PooledConn wraps a connection with pool metadata. It is created by the
// pool on growth and destroyed on eviction; borrowers must not retain it
// past a single call.
type PooledConn struct {
	id       string
	resource string
	conn     Conn

	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
	healthy    bool
}

func newPooledConn(resource string, conn Conn, now time.Time) *PooledConn {
	return &PooledConn{
		id:         uuid.NewString(),
		resource:   resource,
		conn:       conn,
		createdAt:  now,
		lastUsedAt: now,
		healthy:    true,
	}
}

// ID returns the unique connection id.
func (c *PooledConn) ID() string { return c.id }

// Resource returns the owning resource name.
func (c *PooledConn) Resource() string { return c.resource }

// Conn returns the underlying connection handle.
func (c *PooledConn) Conn() Conn { return c.conn }

// CreatedAt returns when the connection was dialed.
func (c *PooledConn) CreatedAt() time.Time { return c.createdAt }

// LastUsedAt returns when the connection was last borrowed or returned.
func (c *PooledConn) LastUsedAt() time.Time { return c.lastUsedAt }

// UseCount returns how many times the connection has been borrowed.
func (c *PooledConn) UseCount() int64 { return c.useCount }

// Healthy reports the result of the last health check.
func (c *PooledConn) Healthy() bool { return c.healthy }

// MarkUnhealthy flags the connection for eviction. Borrowers call it when
// an operation fails in a way that poisons the handle.
func (c *PooledConn) MarkUnhealthy() { c.healthy = false }

func (c *PooledConn) expired(cfg PoolConfig, now time.Time) bool {
	if !c.healthy {
		return true
	}
	if now.Sub(c.createdAt) > cfg.MaxLifetime {
		return true
	}
	if now.Sub(c.lastUsedAt) > cfg.MaxIdleTime {
		return true
	}
	return false
}
