// Package database locates the datasource used for dependency inventory
// queries and opens SQL connections for the host engine.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrDatasourceUnavailable is returned when no configured datasource answers.
var ErrDatasourceUnavailable = errors.New("no datasource available")

// Opener opens the datasource registered under name.
type Opener func(ctx context.Context, name string) (*sql.DB, error)

// DSNOpener treats datasource names as DSNs and opens them with Open.
func DSNOpener(ctx context.Context, name string) (*sql.DB, error) {
	db, _, err := Open(ctx, name)
	return db, err
}

// Locator tries a prioritized list of datasource names and returns the first
// that answers a ping. Opened pools are reused across calls and stay open
// until Close, since callers may still hold them; each Locate pings again so a
// datasource that went away is skipped, and picked up again once it is back.
type Locator struct {
	names  []string
	open   Opener
	logger *slog.Logger

	mu    sync.Mutex
	pools map[string]*sql.DB
}

// NewLocator returns a Locator over names, in priority order.
func NewLocator(names []string, open Opener) *Locator {
	if open == nil {
		open = DSNOpener
	}
	return &Locator{
		names:  append([]string(nil), names...),
		open:   open,
		logger: slog.Default().With("component", "datasource"),
		pools:  make(map[string]*sql.DB),
	}
}

// Names returns the configured datasource names in priority order.
func (l *Locator) Names() []string {
	return append([]string(nil), l.names...)
}

// Locate returns the first reachable datasource and its name. When none
// answers, the error wraps ErrDatasourceUnavailable and every attempt's error.
func (l *Locator) Locate(ctx context.Context) (*sql.DB, string, error) {
	if len(l.names) == 0 {
		return nil, "", fmt.Errorf("%w: none configured", ErrDatasourceUnavailable)
	}

	errs := []error{ErrDatasourceUnavailable}
	for _, name := range l.names {
		db, err := l.pool(ctx, name)
		if err == nil {
			err = db.PingContext(ctx)
			if err == nil {
				return db, name, nil
			}
		}
		label := Redact(name)
		l.logger.WarnContext(ctx, "datasource unavailable", "datasource", label, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return nil, "", errors.Join(errs...)
}

func (l *Locator) pool(ctx context.Context, name string) (*sql.DB, error) {
	l.mu.Lock()
	db, ok := l.pools[name]
	l.mu.Unlock()
	if ok {
		return db, nil
	}

	db, err := l.open(ctx, name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.pools[name]; ok {
		_ = db.Close()
		return existing, nil
	}
	l.pools[name] = db
	return db, nil
}

// Close closes every pool opened by the locator.
func (l *Locator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for name, db := range l.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", Redact(name), err))
		}
		delete(l.pools, name)
	}
	return errors.Join(errs...)
}
