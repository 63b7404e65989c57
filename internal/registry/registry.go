// Package registry tracks installed applications: the uid owning each
// package within a user scope and the platform generation the package
// targets. It backs the identity resolver the policy store consults.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"notifyd/internal/policy"
)

// ErrUnknownPackage marks lookups for packages not installed in the given
// user scope.
var ErrUnknownPackage = errors.New("registry: unknown package")

// firstAppIndex is the first per-scope index handed to applications. Lower
// indexes are reserved.
const firstAppIndex = 10000

// Schema for the application registry.
const schema = `
CREATE TABLE IF NOT EXISTS apps (
    pkg            TEXT NOT NULL,
    user_scope     INTEGER NOT NULL,
    uid            INTEGER NOT NULL UNIQUE,
    target_gen     INTEGER NOT NULL DEFAULT 1,
    registered_at  INTEGER NOT NULL,
    PRIMARY KEY (pkg, user_scope)
);

CREATE INDEX IF NOT EXISTS idx_apps_scope ON apps(user_scope);
`

// App is one installed application in one user scope.
type App struct {
	Pkg          string
	UserScope    int
	UID          int
	TargetGen    int
	RegisteredAt time.Time
}

// Registry is the SQLite-backed application index.
type Registry struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens or creates the registry database at the given path.
func Open(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply registry schema: %w", err)
	}
	return &Registry{db: db, log: logger.With("component", "registry")}, nil
}

// Close closes the database connection.
func (r *Registry) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Register adds pkg to the scope, allocating the next free uid in the
// scope's block. Re-registering an installed package only refreshes its
// target generation; the uid is stable for the lifetime of the install.
func (r *Registry) Register(pkg string, userScope, targetGen int) (*App, error) {
	if pkg == "" {
		return nil, fmt.Errorf("registry: empty package name")
	}
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var uid int
	err = tx.QueryRow(`SELECT uid FROM apps WHERE pkg = ? AND user_scope = ?`,
		pkg, userScope).Scan(&uid)
	switch {
	case err == nil:
		if _, err := tx.Exec(`UPDATE apps SET target_gen = ? WHERE pkg = ? AND user_scope = ?`,
			targetGen, pkg, userScope); err != nil {
			return nil, fmt.Errorf("update app: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		var maxUID int
		if err := tx.QueryRow(`SELECT COALESCE(MAX(uid), ?) FROM apps WHERE user_scope = ?`,
			policy.UIDFor(userScope, firstAppIndex-1), userScope).Scan(&maxUID); err != nil {
			return nil, fmt.Errorf("allocate uid: %w", err)
		}
		uid = maxUID + 1
		if _, err := tx.Exec(`INSERT INTO apps (pkg, user_scope, uid, target_gen, registered_at) VALUES (?, ?, ?, ?, ?)`,
			pkg, userScope, uid, targetGen, time.Now().Unix()); err != nil {
			return nil, fmt.Errorf("insert app: %w", err)
		}
	default:
		return nil, fmt.Errorf("lookup app: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	r.log.Info("package registered", "package", pkg, "scope", userScope, "uid", uid, "target_gen", targetGen)
	return r.Get(pkg, userScope)
}

// Remove deletes pkg from the scope. Removing an unknown package is a
// no-op; the uid is not reused until the scope's block wraps.
func (r *Registry) Remove(pkg string, userScope int) error {
	if _, err := r.db.Exec(`DELETE FROM apps WHERE pkg = ? AND user_scope = ?`,
		pkg, userScope); err != nil {
		return fmt.Errorf("remove app: %w", err)
	}
	return nil
}

// Get returns the app row for (pkg, userScope).
func (r *Registry) Get(pkg string, userScope int) (*App, error) {
	var a App
	var registeredAt int64
	err := r.db.QueryRow(`SELECT pkg, user_scope, uid, target_gen, registered_at FROM apps WHERE pkg = ? AND user_scope = ?`,
		pkg, userScope).Scan(&a.Pkg, &a.UserScope, &a.UID, &a.TargetGen, &registeredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownPackage
	}
	if err != nil {
		return nil, fmt.Errorf("get app: %w", err)
	}
	a.RegisteredAt = time.Unix(registeredAt, 0)
	return &a, nil
}

// List returns every app in the scope ordered by package name.
func (r *Registry) List(userScope int) ([]App, error) {
	rows, err := r.db.Query(`SELECT pkg, user_scope, uid, target_gen, registered_at FROM apps WHERE user_scope = ? ORDER BY pkg`,
		userScope)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	var apps []App
	for rows.Next() {
		var a App
		var registeredAt int64
		if err := rows.Scan(&a.Pkg, &a.UserScope, &a.UID, &a.TargetGen, &registeredAt); err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		a.RegisteredAt = time.Unix(registeredAt, 0)
		apps = append(apps, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate apps: %w", err)
	}
	return apps, nil
}

// ResolveUID implements the identity resolver consulted by the policy
// store.
func (r *Registry) ResolveUID(pkg string, userScope int) (int, error) {
	var uid int
	err := r.db.QueryRow(`SELECT uid FROM apps WHERE pkg = ? AND user_scope = ?`,
		pkg, userScope).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownPackage
	}
	if err != nil {
		return 0, fmt.Errorf("resolve uid: %w", err)
	}
	return uid, nil
}

// TargetGeneration implements the package metadata lookup behind the
// default channel clamp.
func (r *Registry) TargetGeneration(pkg string, userScope int) (int, error) {
	var gen int
	err := r.db.QueryRow(`SELECT target_gen FROM apps WHERE pkg = ? AND user_scope = ?`,
		pkg, userScope).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownPackage
	}
	if err != nil {
		return 0, fmt.Errorf("get target generation: %w", err)
	}
	return gen, nil
}
