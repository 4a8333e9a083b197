package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	logx "ticksched/pkg/logx"
)

func init() {
	// modernc registers as "sqlite"; make the bindvar explicit.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// dialect holds the per-database schema and connection setup.
type dialect struct {
	name   string // database/sql driver name
	schema []string
	setup  []string // best-effort statements run after connecting
	// maxOpen caps the pool (0 = database/sql default).
	maxOpen int
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS fires (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			at_ms      INTEGER NOT NULL,
			task_id    TEXT    NOT NULL DEFAULT '',
			task       TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			tick       INTEGER NOT NULL,
			elapsed_us INTEGER NOT NULL,
			fires      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS fires_task_at ON fires(task, at_ms)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id    INTEGER PRIMARY KEY AUTOINCREMENT,
			at_ms INTEGER NOT NULL,
			body  TEXT    NOT NULL
		)`,
	},
	setup: []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	},
	// SQLite prefers a single writer.
	maxOpen: 1,
}

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS fires (
			id         BIGSERIAL PRIMARY KEY,
			at_ms      BIGINT NOT NULL,
			task_id    VARCHAR(36) NOT NULL DEFAULT '',
			task       TEXT   NOT NULL,
			kind       VARCHAR(16) NOT NULL,
			tick       BIGINT NOT NULL,
			elapsed_us BIGINT NOT NULL,
			fires      BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS fires_task_at ON fires(task, at_ms)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id    BIGSERIAL PRIMARY KEY,
			at_ms BIGINT NOT NULL,
			body  TEXT   NOT NULL
		)`,
	},
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS fires (
			id         BIGINT AUTO_INCREMENT PRIMARY KEY,
			at_ms      BIGINT NOT NULL,
			task_id    VARCHAR(36) NOT NULL DEFAULT '',
			task       VARCHAR(255) NOT NULL,
			kind       VARCHAR(16) NOT NULL,
			tick       BIGINT NOT NULL,
			elapsed_us BIGINT NOT NULL,
			fires      BIGINT NOT NULL,
			INDEX fires_task_at (task, at_ms)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id    BIGINT AUTO_INCREMENT PRIMARY KEY,
			at_ms BIGINT NOT NULL,
			body  LONGTEXT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}

const (
	insertFireSQL = `INSERT INTO fires (at_ms, task_id, task, kind, tick, elapsed_us, fires)
		VALUES (:at_ms, :task_id, :task, :kind, :tick, :elapsed_us, :fires)`
	insertSnapshotSQL = `INSERT INTO snapshots (at_ms, body) VALUES (?, ?)`
	lastSnapshotSQL   = `SELECT at_ms, body FROM snapshots ORDER BY id DESC LIMIT 1`
	recentFiresSQL    = `SELECT at_ms, task_id, task, kind, tick, elapsed_us, fires
		FROM fires ORDER BY id DESC LIMIT ?`
)

type sqlStore struct {
	db  *sqlx.DB
	d   dialect
	log logx.Logger
}

type snapshotRow struct {
	AtMS int64  `db:"at_ms"`
	Body string `db:"body"`
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	d := sqliteDialect
	if cfg.BusyTimeout > 0 {
		d.setup = append([]string{fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())}, d.setup...)
	}
	return openSQL(d, path, log)
}

func openSQL(d dialect, dsn string, log logx.Logger) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("storage.dsn is required for %s driver", d.name)
	}
	db, err := sqlx.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if d.maxOpen > 0 {
		db.SetMaxOpenConns(d.maxOpen)
		db.SetMaxIdleConns(d.maxOpen)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", d.name, err)
	}
	for _, q := range d.setup {
		if _, err := db.ExecContext(ctx, q); err != nil {
			log.Debug("storage setup statement failed", logx.String("sql", q), logx.Err(err))
		}
	}
	st := &sqlStore{db: db, d: d, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sql store opened")
	return st, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, q := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate %s: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) AppendFire(ctx context.Context, r FireRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	r.AtMS = r.At.UnixMilli()
	_, err := s.db.NamedExecContext(ctx, insertFireSQL, r)
	return err
}

func (s *sqlStore) RecentFires(ctx context.Context, limit int) ([]FireRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	var out []FireRecord
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(recentFiresSQL), limit); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].At = time.UnixMilli(out[i].AtMS)
	}
	return out, nil
}

func (s *sqlStore) PutSnapshot(ctx context.Context, r SnapshotRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	body, err := json.Marshal(r.Snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(insertSnapshotSQL), r.At.UnixMilli(), string(body))
	return err
}

func (s *sqlStore) LastSnapshot(ctx context.Context) (SnapshotRecord, bool, error) {
	var r SnapshotRecord
	if s == nil || s.db == nil {
		return r, false, ErrDisabled
	}
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(lastSnapshotSQL))
	if errors.Is(err, sql.ErrNoRows) {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	if err := json.Unmarshal([]byte(row.Body), &r.Snapshot); err != nil {
		return r, false, fmt.Errorf("decode snapshot: %w", err)
	}
	r.At = time.UnixMilli(row.AtMS)
	return r, true, nil
}
