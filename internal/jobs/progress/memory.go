package progress

import (
	"context"
	"sync"
	"time"

	"github.com/irjudson/lumina/internal/interfaces"
	"github.com/irjudson/lumina/internal/models"
)

// MemoryChannel is the in-process ProgressChannel used when no Postgres
// backend is configured (storage.type is neither "postgres" nor empty). It keeps the same
// last-known-snapshot + fan-out contract as PostgresChannel, scoped to this
// process only.
type MemoryChannel struct {
	mu        sync.Mutex
	snapshots map[string]*snapshotEntry
	subs      map[string][]*memorySubscriber
}

type snapshotEntry struct {
	payload   models.ProgressPayload
	updatedAt time.Time
}

// NewMemoryChannel constructs an empty in-memory progress channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		snapshots: make(map[string]*snapshotEntry),
		subs:      make(map[string][]*memorySubscriber),
	}
}

func (c *MemoryChannel) PublishProgress(ctx context.Context, jobID string, status models.JobStatus, current, total int, message string, extra map[string]any) {
	payload := models.ProgressPayload{
		JobID:     jobID,
		Status:    status,
		Progress:  models.ComputeProgress(current, total, "", message),
		Timestamp: models.NaiveUTCTimestamp(time.Now()),
	}
	if extra != nil {
		payload.Result = extra
	}
	c.publish(jobID, payload)
}

func (c *MemoryChannel) PublishCompletion(ctx context.Context, jobID string, status models.JobStatus, result map[string]any, errMsg string) {
	payload := models.ProgressPayload{
		JobID:     jobID,
		Status:    status,
		Timestamp: models.NaiveUTCTimestamp(time.Now()),
	}
	if result != nil {
		payload.Result = result
	} else if errMsg != "" {
		payload.Result = map[string]any{"error": errMsg}
	}
	c.publish(jobID, payload)
}

func (c *MemoryChannel) publish(jobID string, payload models.ProgressPayload) {
	c.mu.Lock()
	c.snapshots[jobID] = &snapshotEntry{payload: payload, updatedAt: time.Now()}
	subs := append([]*memorySubscriber(nil), c.subs[jobID]...)
	c.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- &payload:
		default:
		}
	}
}

func (c *MemoryChannel) GetLastProgress(ctx context.Context, jobID string) (*models.ProgressPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.snapshots[jobID]
	if !ok {
		return nil, nil
	}
	payload := entry.payload
	return &payload, nil
}

func (c *MemoryChannel) Subscribe(ctx context.Context, jobID string) (interfaces.Subscriber, error) {
	s := &memorySubscriber{
		ch:     make(chan *models.ProgressPayload, 32),
		closed: make(chan struct{}),
	}

	c.mu.Lock()
	c.subs[jobID] = append(c.subs[jobID], s)
	c.mu.Unlock()

	s.unregister = func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.subs[jobID]
		for i, cand := range list {
			if cand == s {
				c.subs[jobID] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}

	return s, nil
}

func (c *MemoryChannel) CleanupOld(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for jobID, entry := range c.snapshots {
		if entry.updatedAt.Before(cutoff) {
			delete(c.snapshots, jobID)
			removed++
		}
	}
	return removed, nil
}

type memorySubscriber struct {
	ch         chan *models.ProgressPayload
	closed     chan struct{}
	closeOnce  sync.Once
	unregister func()
}

func (s *memorySubscriber) NextMessage(ctx context.Context, timeout time.Duration) (*models.ProgressPayload, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case p := <-s.ch:
		return p, nil
	case <-s.closed:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer:
		return nil, nil
	}
}

func (s *memorySubscriber) Close() error {
	s.closeOnce.Do(func() {
		if s.unregister != nil {
			s.unregister()
		}
		close(s.closed)
	})
	return nil
}

var (
	_ interfaces.ProgressChannel = (*MemoryChannel)(nil)
	_ interfaces.Subscriber      = (*memorySubscriber)(nil)
)
