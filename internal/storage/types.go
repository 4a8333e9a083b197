package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ticksched/internal/scheduler"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Store is the persistence API used by the app.
type Store interface {
	AppendFire(ctx context.Context, r FireRecord) error
	PutSnapshot(ctx context.Context, r SnapshotRecord) error
	// LastSnapshot returns the newest snapshot; ok is false when none exists.
	LastSnapshot(ctx context.Context) (r SnapshotRecord, ok bool, err error)
	// RecentFires returns up to limit records, newest first.
	RecentFires(ctx context.Context, limit int) ([]FireRecord, error)
	Close() error
}

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres, mysql
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// FireRecord is one persisted callback invocation.
type FireRecord struct {
	At        time.Time `json:"at" db:"-"`
	AtMS      int64     `json:"-" db:"at_ms"`
	TaskID    string    `json:"task_id" db:"task_id"`
	Task      string    `json:"task" db:"task"`
	Kind      string    `json:"kind" db:"kind"`
	Tick      int64     `json:"tick" db:"tick"`
	ElapsedUS int64     `json:"elapsed_us" db:"elapsed_us"`
	Fires     int64     `json:"fires" db:"fires"`
}

// FireFromEvent converts a scheduler fire observed at at.
func FireFromEvent(f scheduler.Fire, at time.Time) FireRecord {
	r := FireRecord{
		At:        at,
		Task:      f.Name,
		Kind:      f.Kind.String(),
		Tick:      int64(f.Tick),
		ElapsedUS: f.Elapsed.Microseconds(),
		Fires:     int64(f.Fires),
	}
	if f.ID != uuid.Nil {
		r.TaskID = f.ID.String()
	}
	return r
}

// SnapshotRecord is a scheduler snapshot taken at At.
type SnapshotRecord struct {
	At       time.Time          `json:"at"`
	Snapshot scheduler.Snapshot `json:"snapshot"`
}
