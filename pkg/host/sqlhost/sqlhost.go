// Package sqlhost is a host engine backed by a relational database. Commands
// and dependency names live in SQL tables; dependency payloads live in a
// content-addressed artifact store.
package sqlhost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/cmdkit/pkg/artifacts"
	"github.com/Mindburn-Labs/cmdkit/pkg/database"
	"github.com/Mindburn-Labs/cmdkit/pkg/host"
	"github.com/Mindburn-Labs/cmdkit/pkg/params"
)

// ErrNodePaused is returned by Execute while the node is paused.
var ErrNodePaused = errors.New("host node is paused")

const schema = `
CREATE TABLE IF NOT EXISTS command (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL,
	main_class TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS dependency (
	name TEXT PRIMARY KEY,
	blob_hash TEXT NOT NULL,
	size BIGINT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// Host implements every host port over a SQL database.
type Host struct {
	host.Bindings

	db      *sql.DB
	dialect database.Dialect
	blobs   artifacts.Store
	// locator finds the datasource for inventory queries; nil uses db.
	locator *database.Locator
	paused  atomic.Bool
	logger  *slog.Logger
}

// New returns a host over db. Call Init before use.
func New(db *sql.DB, dialect database.Dialect, blobs artifacts.Store, locator *database.Locator) *Host {
	return &Host{
		db:      db,
		dialect: dialect,
		blobs:   blobs,
		locator: locator,
		logger:  slog.Default().With("component", "sqlhost"),
	}
}

// Init creates the tables.
func (h *Host) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := h.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create host schema: %w", err)
		}
	}
	return nil
}

// Engine exposes h through every host port.
func (h *Host) Engine() host.Engine {
	return host.Engine{Commands: h, Dependencies: h, Inventory: h, Lifecycle: h}
}

// ph returns the n-th placeholder of the host dialect.
func (h *Host) ph(n int) string {
	return h.dialect.Placeholder(n)
}

func (h *Host) ListAll(ctx context.Context) ([]host.RegisteredCommand, error) {
	rows, err := h.db.QueryContext(ctx, "SELECT id, name, description, main_class FROM command ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []host.RegisteredCommand
	for rows.Next() {
		var c host.RegisteredCommand
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.MainClass); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (h *Host) Register(ctx context.Context, name, description, mainClass string) (host.RegisteredCommand, error) {
	var exists int
	err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM command WHERE name = "+h.ph(1), name).Scan(&exists)
	if err != nil {
		return host.RegisteredCommand{}, fmt.Errorf("failed to check command %s: %w", name, err)
	}
	if exists > 0 {
		return host.RegisteredCommand{}, fmt.Errorf("%w: %s", host.ErrCommandAlreadyExists, name)
	}

	cmd := host.RegisteredCommand{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		MainClass:   mainClass,
	}
	query := fmt.Sprintf("INSERT INTO command (id, name, description, main_class, created_at) VALUES (%s, %s, %s, %s, %s)",
		h.ph(1), h.ph(2), h.ph(3), h.ph(4), h.ph(5))
	if _, err := h.db.ExecContext(ctx, query, cmd.ID, name, description, mainClass, time.Now().UTC()); err != nil {
		return host.RegisteredCommand{}, fmt.Errorf("failed to register command %s: %w", name, err)
	}
	return cmd, nil
}

func (h *Host) Unregister(ctx context.Context, id string) error {
	res, err := h.db.ExecContext(ctx, "DELETE FROM command WHERE id = "+h.ph(1), id)
	if err != nil {
		return fmt.Errorf("failed to unregister command %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", host.ErrCommandNotFound, id)
	}
	return nil
}

func (h *Host) Execute(ctx context.Context, id string, envelope params.Bag) (any, error) {
	if h.paused.Load() {
		return nil, ErrNodePaused
	}
	var cmd host.RegisteredCommand
	err := h.db.QueryRowContext(ctx,
		"SELECT id, name, description, main_class FROM command WHERE id = "+h.ph(1), id).
		Scan(&cmd.ID, &cmd.Name, &cmd.Description, &cmd.MainClass)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", host.ErrCommandNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load command %s: %w", id, err)
	}
	return h.Bindings.Invoke(ctx, cmd, envelope)
}

func (h *Host) AddDependency(ctx context.Context, name string, body []byte) error {
	var exists int
	err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dependency WHERE name = "+h.ph(1), name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check dependency %s: %w", name, err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", host.ErrDependencyAlreadyExists, name)
	}

	hash, err := h.blobs.Store(ctx, body)
	if err != nil {
		return fmt.Errorf("failed to store dependency %s: %w", name, err)
	}
	query := fmt.Sprintf("INSERT INTO dependency (name, blob_hash, size, created_at) VALUES (%s, %s, %s, %s)",
		h.ph(1), h.ph(2), h.ph(3), h.ph(4))
	if _, err := h.db.ExecContext(ctx, query, name, hash, int64(len(body)), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to add dependency %s: %w", name, err)
	}
	return nil
}

func (h *Host) RemoveDependency(ctx context.Context, name string) error {
	var hash string
	err := h.db.QueryRowContext(ctx, "SELECT blob_hash FROM dependency WHERE name = "+h.ph(1), name).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", host.ErrDependencyNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("failed to load dependency %s: %w", name, err)
	}
	if _, err := h.db.ExecContext(ctx, "DELETE FROM dependency WHERE name = "+h.ph(1), name); err != nil {
		return fmt.Errorf("failed to remove dependency %s: %w", name, err)
	}

	// Blobs are shared by identical payloads; drop only the last reference.
	var refs int
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dependency WHERE blob_hash = "+h.ph(1), hash).Scan(&refs); err != nil {
		h.logger.WarnContext(ctx, "failed to count blob references", "dependency", name, "error", err)
		return nil
	}
	if refs == 0 {
		if err := h.blobs.Delete(ctx, hash); err != nil && !errors.Is(err, artifacts.ErrArtifactNotFound) {
			h.logger.WarnContext(ctx, "failed to delete dependency blob", "dependency", name, "hash", hash, "error", err)
		}
	}
	return nil
}

// Dependency returns the payload stored under name.
func (h *Host) Dependency(ctx context.Context, name string) ([]byte, error) {
	var hash string
	err := h.db.QueryRowContext(ctx, "SELECT blob_hash FROM dependency WHERE name = "+h.ph(1), name).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", host.ErrDependencyNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dependency %s: %w", name, err)
	}
	return h.blobs.Get(ctx, hash)
}

// FindDependencyNamesByPrefix queries the dependency table of the first
// reachable datasource, which must share the host dialect. Nothing is cached
// between calls.
func (h *Host) FindDependencyNamesByPrefix(ctx context.Context, prefixes []string) ([]string, error) {
	if len(prefixes) == 0 {
		return nil, nil
	}
	db := h.db
	if h.locator != nil {
		located, _, err := h.locator.Locate(ctx)
		if err != nil {
			return nil, err
		}
		db = located
	}

	conds := make([]string, len(prefixes))
	args := make([]any, len(prefixes))
	for i, p := range prefixes {
		conds[i] = fmt.Sprintf(`name LIKE %s ESCAPE '\'`, h.ph(i+1))
		args[i] = escapeLike(p) + "%"
	}
	query := "SELECT name FROM dependency WHERE " + strings.Join(conds, " OR ")

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependency inventory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan dependency name: %w", err)
		}
		// LIKE is case-insensitive on SQLite; keep exact prefix semantics.
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				seen[name] = struct{}{}
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Pause stops executions until Resume.
func (h *Host) Pause(ctx context.Context) error {
	h.paused.Store(true)
	h.logger.InfoContext(ctx, "node paused")
	return nil
}

func (h *Host) Resume(ctx context.Context) error {
	h.paused.Store(false)
	h.logger.InfoContext(ctx, "node resumed")
	return nil
}
