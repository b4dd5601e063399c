// Package jobs tracks the interview jobs a worker has accepted.
package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/interview-agent/internal/usage"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusEnded   Status = "ended"
	StatusFailed  Status = "failed"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrRoomBusy = errors.New("room already has an active job")
)

type Job struct {
	ID        string         `json:"job_id"`
	Room      string         `json:"room"`
	AgentName string         `json:"agent_name"`
	Status    Status         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Usage     *usage.Summary `json:"usage,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	StartedAt time.Time      `json:"started_at,omitzero"`
	EndedAt   time.Time      `json:"ended_at,omitzero"`
}

func (j *Job) Active() bool {
	return j.Status == StatusPending || j.Status == StatusRunning
}

type Manager struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	jobByRoom map[string]string
	retention time.Duration
	onEnd     func(*Job)
}

func NewManager(retention time.Duration) *Manager {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Manager{
		jobs:      make(map[string]*Job),
		jobByRoom: make(map[string]string),
		retention: retention,
	}
}

// SetEndHook registers a callback invoked after a job ends or fails.
func (m *Manager) SetEndHook(hook func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = hook
}

func (m *Manager) Create(room, agentName string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.jobByRoom[room]; ok {
		if j := m.jobs[id]; j != nil && j.Active() {
			return nil, ErrRoomBusy
		}
	}
	j := &Job{
		ID:        uuid.NewString(),
		Room:      room,
		AgentName: agentName,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	m.jobs[j.ID] = j
	m.jobByRoom[room] = j.ID
	return clone(j), nil
}

func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(j), nil
}

// List returns all known jobs, newest first.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, clone(j))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

func (m *Manager) MarkRunning(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status == StatusPending {
		j.Status = StatusRunning
		j.StartedAt = time.Now().UTC()
	}
	return nil
}

func (m *Manager) SetUsage(id string, s usage.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Usage = &s
	return nil
}

// Finish moves a job to ended, or failed when cause is non-nil. Finishing an
// already finished job is a no-op.
func (m *Manager) Finish(id string, cause error) (*Job, error) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if !j.Active() {
		c := clone(j)
		m.mu.Unlock()
		return c, nil
	}
	j.Status = StatusEnded
	if cause != nil {
		j.Status = StatusFailed
		j.Error = cause.Error()
	}
	j.EndedAt = time.Now().UTC()
	if m.jobByRoom[j.Room] == j.ID {
		delete(m.jobByRoom, j.Room)
	}
	c := clone(j)
	hook := m.onEnd
	m.mu.Unlock()

	if hook != nil {
		hook(clone(c))
	}
	return c, nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, j := range m.jobs {
		if j.Active() {
			count++
		}
	}
	return count
}

// StartJanitor purges finished jobs older than the retention window.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.purgeFinished(time.Now().UTC())
			}
		}
	}()
}

func (m *Manager) purgeFinished(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for id, j := range m.jobs {
		if j.Active() || now.Sub(j.EndedAt) < m.retention {
			continue
		}
		delete(m.jobs, id)
		purged++
	}
	return purged
}

func clone(j *Job) *Job {
	c := *j
	if j.Usage != nil {
		u := *j.Usage
		c.Usage = &u
	}
	return &c
}
