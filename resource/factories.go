package resource

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"
)

// SQLFactory dials database connections through database/sql. Each pooled
// connection is its own single-handle sql.DB so this pool, not the
// driver's, controls sizing and lifetime.
type SQLFactory struct {
	Driver string
	DSN    string
}

// Open dials and verifies one database handle.
func (f SQLFactory) Open(ctx context.Context) (Conn, error) {
	db, err := sql.Open(f.Driver, f.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLConn{db: db}, nil
}

// SQLConn is a pooled database handle.
type SQLConn struct {
	db *sql.DB
}

// DB exposes the underlying handle for query execution.
func (c *SQLConn) DB() *sql.DB { return c.db }

// Ping implements Conn.
func (c *SQLConn) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

// Close implements Conn.
func (c *SQLConn) Close() error { return c.db.Close() }

// HTTPFactory produces HTTP client handles for one upstream service.
type HTTPFactory struct {
	// BaseURL is the upstream root, e.g. "https://api.internal:8443".
	BaseURL string
	// HealthPath is appended to BaseURL for Ping. Empty disables pinging.
	HealthPath string
	// Timeout applies per request. Zero means 30s.
	Timeout time.Duration
}

// Open builds one HTTP client handle.
func (f HTTPFactory) Open(_ context.Context) (Conn, error) {
	if f.BaseURL == "" {
		return nil, fmt.Errorf("resource: http factory requires a base url")
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPConn{
		client:    &http.Client{Timeout: timeout},
		baseURL:   f.BaseURL,
		healthURL: f.BaseURL + f.HealthPath,
		hasHealth: f.HealthPath != "",
	}, nil
}

// HTTPConn is a pooled HTTP client handle.
type HTTPConn struct {
	client    *http.Client
	baseURL   string
	healthURL string
	hasHealth bool
}

// Client exposes the underlying HTTP client.
func (c *HTTPConn) Client() *http.Client { return c.client }

// BaseURL returns the upstream root this handle talks to.
func (c *HTTPConn) BaseURL() string { return c.baseURL }

// Ping issues a GET against the health path, if one was configured.
func (c *HTTPConn) Ping(ctx context.Context) error {
	if !c.hasHealth {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("resource: health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Close implements Conn. HTTP clients hold no per-handle state beyond
// keep-alive connections, which the transport reclaims.
func (c *HTTPConn) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
