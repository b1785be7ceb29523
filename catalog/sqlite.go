package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/utilitywarehouse/git-autofetch/internal/lock"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS repositories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	local_path TEXT NOT NULL UNIQUE,
	clone_status TEXT NOT NULL,
	last_checked INTEGER
);
CREATE INDEX IF NOT EXISTS idx_clone_status ON repositories(clone_status);
`

// SQLiteStore is a Catalog backed by a SQLite database file.
// A SQLiteStore is safe for concurrent use by multiple goroutines.
type SQLiteStore struct {
	lock lock.RWMutex
	db   *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the catalog database at dbPath.
// Use ":memory:" for an in-memory catalog.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = (&url.URL{
			Scheme:   "file",
			Path:     dbPath,
			RawQuery: "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		}).String()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open catalog db err:%w", err)
	}
	// every connection to :memory: gets its own empty database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to initialise catalog schema err:%w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Open acquires a dedicated connection which is held until the session is closed.
func (s *SQLiteStore) Open(ctx context.Context) (Session, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqliteSession{store: s, conn: conn}, nil
}

// conn takes a connection from the pool. It must be called before s.lock is
// taken as an open session may hold the only connection (":memory:") while
// waiting for the lock.
func (s *SQLiteStore) conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to acquire catalog connection err:%w", err)
	}
	return conn, nil
}

// Add inserts a new repository record and returns it with its assigned ID.
func (s *SQLiteStore) Add(ctx context.Context, repo Repository) (Repository, error) {
	if repo.Name == "" {
		return Repository{}, fmt.Errorf("repository name cannot be empty")
	}
	if repo.LocalPath == "" {
		return Repository{}, fmt.Errorf("repository local path cannot be empty")
	}
	if repo.CloneStatus == "" {
		repo.CloneStatus = StatusNotCloned
	}
	if _, err := ParseCloneStatus(string(repo.CloneStatus)); err != nil {
		return Repository{}, err
	}

	conn, err := s.conn(ctx)
	if err != nil {
		return Repository{}, err
	}
	defer conn.Close()

	s.lock.Lock()
	defer s.lock.Unlock()

	res, err := conn.ExecContext(ctx,
		"INSERT INTO repositories (name, local_path, clone_status, last_checked) VALUES (?, ?, ?, ?)",
		repo.Name, repo.LocalPath, string(repo.CloneStatus), toNullUnix(repo.LastChecked),
	)
	if err != nil {
		return Repository{}, fmt.Errorf("unable to insert repository err:%w", err)
	}
	if repo.ID, err = res.LastInsertId(); err != nil {
		return Repository{}, err
	}
	return repo, nil
}

// Get returns repository with given ID.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (Repository, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return Repository{}, err
	}
	defer conn.Close()

	s.lock.RLock()
	defer s.lock.RUnlock()

	rows, err := conn.QueryContext(ctx,
		"SELECT id, name, local_path, clone_status, last_checked FROM repositories WHERE id = ?", id)
	if err != nil {
		return Repository{}, fmt.Errorf("unable to query repository err:%w", err)
	}
	defer rows.Close()

	repos, err := scanRepositories(rows)
	if err != nil {
		return Repository{}, err
	}
	if len(repos) == 0 {
		return Repository{}, ErrNotExist
	}
	return repos[0], nil
}

// List returns all repositories ordered by ID.
func (s *SQLiteStore) List(ctx context.Context) ([]Repository, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	s.lock.RLock()
	defer s.lock.RUnlock()

	rows, err := conn.QueryContext(ctx,
		"SELECT id, name, local_path, clone_status, last_checked FROM repositories ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("unable to query repositories err:%w", err)
	}
	defer rows.Close()

	return scanRepositories(rows)
}

// SetStatus changes clone status of the repository with given ID.
func (s *SQLiteStore) SetStatus(ctx context.Context, id int64, status CloneStatus) error {
	if _, err := ParseCloneStatus(string(status)); err != nil {
		return err
	}

	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.lock.Lock()
	defer s.lock.Unlock()

	res, err := conn.ExecContext(ctx, "UPDATE repositories SET clone_status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("unable to update repository status err:%w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotExist
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.db.Close()
}

type sqliteSession struct {
	store *SQLiteStore
	conn  *sql.Conn
}

func (ss *sqliteSession) Query(ctx context.Context, status CloneStatus) ([]Repository, error) {
	ss.store.lock.RLock()
	defer ss.store.lock.RUnlock()

	rows, err := ss.conn.QueryContext(ctx,
		"SELECT id, name, local_path, clone_status, last_checked FROM repositories WHERE clone_status = ? ORDER BY id",
		string(status))
	if err != nil {
		return nil, fmt.Errorf("unable to query repositories err:%w", err)
	}
	defer rows.Close()

	return scanRepositories(rows)
}

// Commit writes all changes in a single transaction. Changes for records
// which were removed in the meantime are ignored.
func (ss *sqliteSession) Commit(ctx context.Context, changes ...Change) error {
	ss.store.lock.Lock()
	defer ss.store.lock.Unlock()

	tx, err := ss.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to begin transaction err:%w", err)
	}
	defer tx.Rollback()

	for _, c := range changes {
		if _, err := tx.ExecContext(ctx,
			"UPDATE repositories SET last_checked = ? WHERE id = ?",
			c.LastChecked.UTC().UnixNano(), c.ID,
		); err != nil {
			return fmt.Errorf("unable to update repository id:%d err:%w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit transaction err:%w", err)
	}
	return nil
}

func (ss *sqliteSession) Close() error {
	err := ss.conn.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}

func scanRepositories(rows *sql.Rows) ([]Repository, error) {
	var repos []Repository
	for rows.Next() {
		var r Repository
		var status string
		var lastChecked sql.NullInt64

		if err := rows.Scan(&r.ID, &r.Name, &r.LocalPath, &status, &lastChecked); err != nil {
			return nil, fmt.Errorf("unable to scan repository err:%w", err)
		}
		r.CloneStatus = CloneStatus(strings.TrimSpace(status))
		if lastChecked.Valid {
			t := time.Unix(0, lastChecked.Int64).UTC()
			r.LastChecked = &t
		}
		repos = append(repos, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to iterate rows err:%w", err)
	}
	return repos, nil
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}
