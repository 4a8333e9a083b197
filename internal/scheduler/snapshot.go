package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// TaskInfo is a point-in-time view of one registered task.
type TaskInfo struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Kind    Kind          `json:"kind"`
	Status  Status        `json:"status"`
	Timeout time.Duration `json:"timeout"`
	Elapsed time.Duration `json:"elapsed"`
	Fires   uint64        `json:"fires"`
}

// Snapshot is a point-in-time view of the scheduler, tasks in dispatch order.
type Snapshot struct {
	Initialized bool          `json:"initialized"`
	Period      time.Duration `json:"period"`
	Ticks       uint64        `json:"ticks"`
	Tasks       []TaskInfo    `json:"tasks"`
}

// Snapshot takes the guard; do not call it from callbacks or OnFire.
func (s *Scheduler) Snapshot() Snapshot {
	s.guard.Lock()
	defer s.guard.Unlock()

	snap := Snapshot{
		Initialized: s.tasks != nil,
		Period:      s.Period(),
		Ticks:       s.ticks.Load(),
		Tasks:       make([]TaskInfo, 0, s.tasks.Len()),
	}
	for t := range s.tasks.All() {
		info := TaskInfo{
			Name:    t.Name,
			Kind:    t.Kind,
			Status:  t.loadStatus(),
			Timeout: t.Timeout,
			Elapsed: t.elapsed(),
			Fires:   t.fires.Load(),
		}
		if t.id != uuid.Nil {
			info.ID = t.id.String()
		}
		snap.Tasks = append(snap.Tasks, info)
	}
	return snap
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "stopped":
		*s = Stopped
	case "started":
		*s = Started
	default:
		*s = Unknown
	}
	return nil
}
