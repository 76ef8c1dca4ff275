/*
Copyright 2024 CommerceKube.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

var (
	// ErrNotFound is returned when no record matches the given ID.
	ErrNotFound = errors.New("store not found")

	// ErrNameConflict is returned when a live record already owns the name.
	ErrNameConflict = errors.New("store name already in use")

	// ErrIllegalTransition is returned when a status update is not an
	// edge of the state machine.  Seeing one means a caller bug or a
	// lost race, never user input.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrInvalid is returned on constraint violations at create time.
	ErrInvalid = errors.New("invalid store attributes")
)

// nameRE constrains user supplied store names.  The name ends up in DNS
// labels via the ingress host, hence the shape.
var nameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,48}[a-z0-9]$`)

// NameValid reports whether a store name is acceptable.
func NameValid(name string) bool {
	return nameRE.MatchString(name)
}

// createRetries bounds ID regeneration when the random suffix collides.
const createRetries = 3

// Store owns persistence of store records.  Every public operation is a
// single short transaction; nothing here holds state between calls.
type Store struct {
	db      *sqlx.DB
	dialect string
}

// migrations populates the schema.  The unique index over name is partial
// so a DELETED record never blocks reuse of its name.
var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "init",
			Up: []string{
				`
					CREATE TABLE stores (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL,
						engine TEXT NOT NULL,
						namespace TEXT NOT NULL,
						helm_release TEXT NOT NULL,
						status TEXT NOT NULL,
						store_url TEXT NOT NULL DEFAULT '',
						failure_reason TEXT NOT NULL DEFAULT '',
						admin_username TEXT NOT NULL,
						admin_email TEXT NOT NULL,
						admin_password TEXT NOT NULL,
						db_name TEXT NOT NULL,
						db_username TEXT NOT NULL,
						db_password TEXT NOT NULL,
						db_root_password TEXT NOT NULL,
						created_at TIMESTAMP NOT NULL,
						updated_at TIMESTAMP NOT NULL
					);
				`,
				`CREATE UNIQUE INDEX stores_live_name ON stores (name) WHERE status != 'DELETED';`,
				`CREATE INDEX stores_status ON stores (status);`,
			},
			Down: []string{
				`DROP TABLE stores;`,
			},
		},
	},
}

// Open connects to the database named by dsn and ensures the schema is in
// place.  A postgres URL selects the postgres driver, anything else is
// treated as an SQLite file path, which is the local development default.
func Open(ctx context.Context, dsn string) (*Store, error) {
	dialect, datasource := dialectFor(dsn)

	db, err := sqlx.ConnectContext(ctx, dialect, datasource)
	if err != nil {
		return nil, fmt.Errorf("database connect: %w", err)
	}

	if dialect == "sqlite3" {
		// SQLite serializes writers itself, a pool of connections
		// only buys "database is locked" errors.
		db.SetMaxOpenConns(1)
	}

	if _, err := migrate.Exec(db.DB, dialect, migrations, migrate.Up); err != nil {
		return nil, fmt.Errorf("database migrate: %w", err)
	}

	log.FromContext(ctx).Info("store database opened", "dialect", dialect)

	return &Store{db: db, dialect: dialect}, nil
}

func dialectFor(dsn string) (string, string) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", dsn
	}

	return "sqlite3", strings.TrimPrefix(dsn, "sqlite://")
}

// Close releases the underlying connections.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to the dialect's native form.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// CreateRequest carries the user supplied attributes of a new store.
type CreateRequest struct {
	Name          string
	Engine        Engine
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

func (r *CreateRequest) validate() error {
	if !NameValid(r.Name) {
		return fmt.Errorf("%w: name %q", ErrInvalid, r.Name)
	}

	if !r.Engine.Valid() {
		return fmt.Errorf("%w: engine %q", ErrInvalid, r.Engine)
	}

	if r.AdminUsername == "" || r.AdminEmail == "" {
		return fmt.Errorf("%w: admin credentials required", ErrInvalid)
	}

	if len(r.AdminPassword) < 8 {
		return fmt.Errorf("%w: admin password too short", ErrInvalid)
	}

	return nil
}

const insertQuery = `
	INSERT INTO stores (
		id, name, engine, namespace, helm_release, status,
		store_url, failure_reason,
		admin_username, admin_email, admin_password,
		db_name, db_username, db_password, db_root_password,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, '', '', ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Create inserts a new record in PROVISIONING.  The ID is derived from
// the name plus a random 8 character suffix; a suffix collision is
// retried a handful of times before giving up.
func (s *Store) Create(ctx context.Context, request *CreateRequest) (*Record, error) {
	if err := request.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	record := &Record{
		Name:           request.Name,
		Engine:         request.Engine,
		Status:         StatusProvisioning,
		AdminUsername:  request.AdminUsername,
		AdminEmail:     request.AdminEmail,
		AdminPassword:  request.AdminPassword,
		DBName:         databaseNameFor(request.Engine),
		DBUsername:     "store",
		DBPassword:     randomSecret(),
		DBRootPassword: randomSecret(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for attempt := 0; attempt < createRetries; attempt++ {
		record.ID = request.Name + "-" + randomSuffix()
		record.Namespace = NamespaceForID(record.ID)
		record.HelmRelease = record.ID

		_, err := s.db.ExecContext(ctx, s.rebind(insertQuery),
			record.ID, record.Name, record.Engine, record.Namespace, record.HelmRelease, record.Status,
			record.AdminUsername, record.AdminEmail, record.AdminPassword,
			record.DBName, record.DBUsername, record.DBPassword, record.DBRootPassword,
			record.CreatedAt, record.UpdatedAt)
		if err == nil {
			log.FromContext(ctx).Info("store record created", "id", record.ID, "name", record.Name, "engine", record.Engine)

			return record, nil
		}

		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("store insert: %w", err)
		}

		conflict, cerr := s.nameInUse(ctx, request.Name)
		if cerr != nil {
			return nil, cerr
		}

		if conflict {
			return nil, fmt.Errorf("%w: %s", ErrNameConflict, request.Name)
		}

		// The name is free, so the random ID collided.  Vanishingly
		// rare, regenerate and try again.
	}

	return nil, fmt.Errorf("%w: could not allocate a unique id", ErrInvalid)
}

func (s *Store) nameInUse(ctx context.Context, name string) (bool, error) {
	var count int

	query := s.rebind(`SELECT COUNT(*) FROM stores WHERE name = ? AND status != ?`)

	if err := s.db.GetContext(ctx, &count, query, name, StatusDeleted); err != nil {
		return false, fmt.Errorf("store name lookup: %w", err)
	}

	return count > 0, nil
}

// Get returns the record with the given ID or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	record := &Record{}

	query := s.rebind(`SELECT * FROM stores WHERE id = ?`)

	if err := s.db.GetContext(ctx, record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		return nil, fmt.Errorf("store get: %w", err)
	}

	return record, nil
}

// List returns all records, newest first.  DELETED records are included,
// they are retained as an audit trail.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	records := []Record{}

	if err := s.db.SelectContext(ctx, &records, `SELECT * FROM stores ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("store list: %w", err)
	}

	return records, nil
}

// ListNonTerminal returns records still owed work, used by recovery on
// process start.
func (s *Store) ListNonTerminal(ctx context.Context) ([]Record, error) {
	records := []Record{}

	query := s.rebind(`SELECT * FROM stores WHERE status IN (?, ?) ORDER BY created_at ASC`)

	if err := s.db.SelectContext(ctx, &records, query, StatusProvisioning, StatusDeleting); err != nil {
		return nil, fmt.Errorf("store list non-terminal: %w", err)
	}

	return records, nil
}

// UpdateStatus moves a record along the state machine.  The URL must be
// provided exactly when transitioning to READY, the reason exactly when
// transitioning to FAILED; both are cleared otherwise.  The update is
// guarded on the current status so a lost race surfaces as
// ErrIllegalTransition rather than a silent overwrite.
func (s *Store) UpdateStatus(ctx context.Context, id string, to Status, url, reason string) error {
	if (to == StatusReady) != (url != "") {
		return fmt.Errorf("%w: store URL is set if and only if READY", ErrInvalid)
	}

	if (to == StatusFailed) != (reason != "") {
		return fmt.Errorf("%w: failure reason is set if and only if FAILED", ErrInvalid)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store update begin: %w", err)
	}

	defer func() {
		//nolint:errcheck
		tx.Rollback()
	}()

	var current Status

	if err := tx.GetContext(ctx, &current, s.rebind(`SELECT status FROM stores WHERE id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		return fmt.Errorf("store update read: %w", err)
	}

	if !current.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, to)
	}

	query := s.rebind(`UPDATE stores SET status = ?, store_url = ?, failure_reason = ?, updated_at = ? WHERE id = ? AND status = ?`)

	result, err := tx.ExecContext(ctx, query, to, url, reason, time.Now().UTC(), id, current)
	if err != nil {
		return fmt.Errorf("store update: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store update result: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s -> %s lost a race", ErrIllegalTransition, current, to)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store update commit: %w", err)
	}

	log.FromContext(ctx).Info("store status updated", "id", id, "from", current, "to", to)

	return nil
}

func databaseNameFor(engine Engine) string {
	if engine == EngineWooCommerce {
		return "wordpress"
	}

	return string(engine)
}

// randomSuffix yields 8 lowercase hex characters for ID derivation.
func randomSuffix() string {
	id := uuid.New()

	return hex.EncodeToString(id[:])[:8]
}

// randomSecret yields a 20 character URL-safe secret for generated
// database credentials.
func randomSecret() string {
	raw := make([]byte, 15)

	// rand.Read never actually fails on supported platforms.
	//nolint:errcheck
	rand.Read(raw)

	return base64.RawURLEncoding.EncodeToString(raw)
}

// isUniqueViolation spots unique index violations for both supported
// drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var sqliteErr sqlite3.Error

	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}

	return false
}
