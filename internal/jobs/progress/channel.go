// Package progress implements the Progress Channel (spec §4.3): a
// soft-real-time publish/subscribe layer over job progress, backed by a
// durable last-known snapshot so a late subscriber (or a poller) can always
// recover current state.
//
// Two implementations satisfy interfaces.ProgressChannel: PostgresChannel
// uses Postgres LISTEN/NOTIFY (github.com/lib/pq's Listener, grounded in its
// documented bulk-notify idiom — the pack's examples reference LISTEN/NOTIFY
// as a coordination primitive, see internal/application/worker/coordinator.go
// in other_examples/, but none wires the concrete Listener type, so this
// follows lib/pq's own API directly) with the job_progress table as the
// snapshot of record; MemoryChannel is the in-process fallback used when
// storage.type is neither "postgres" nor empty.
package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/ternarybob/arbor"

	"github.com/irjudson/lumina/internal/interfaces"
	"github.com/irjudson/lumina/internal/models"
)

// channelName computes the per-job LISTEN/NOTIFY channel name, per spec §6's
// wire contract ("job_progress_<job_id>").
func channelName(jobID string) string {
	return "job_progress_" + jobID
}

// PostgresChannel publishes progress via pg_notify on a per-job channel and
// keeps the job_progress table as a durable snapshot, so GetLastProgress (and
// any new subscriber) observes the most recent state even if it missed the
// notification.
type PostgresChannel struct {
	db      *sql.DB
	connStr string
	logger  arbor.ILogger

	mu   sync.Mutex
	subs map[string][]*postgresSubscriber
	// listeners holds one *pq.Listener per job_id currently subscribed,
	// refcounted via subs; a job with no subscribers has no listener.
	listeners map[string]*pq.Listener
}

// NewPostgresChannel constructs a channel bound to db; connStr is used to
// open one *pq.Listener per subscribed job id (LISTEN/NOTIFY channels are
// per-job, so listeners are opened lazily in Subscribe, not eagerly here).
func NewPostgresChannel(db *sql.DB, connStr string, logger arbor.ILogger) (*PostgresChannel, error) {
	return &PostgresChannel{
		db:        db,
		connStr:   connStr,
		logger:    logger,
		subs:      make(map[string][]*postgresSubscriber),
		listeners: make(map[string]*pq.Listener),
	}, nil
}

func (c *PostgresChannel) dispatchLoop(jobID string, listener *pq.Listener) {
	for n := range listener.Notify {
		if n == nil {
			continue
		}
		var payload models.ProgressPayload
		if err := json.Unmarshal([]byte(n.Extra), &payload); err != nil {
			c.logger.Warn().Err(err).Msg("progress channel: malformed notification payload")
			continue
		}
		c.fanOut(jobID, &payload)
	}
}

func (c *PostgresChannel) fanOut(jobID string, payload *models.ProgressPayload) {
	c.mu.Lock()
	subs := append([]*postgresSubscriber(nil), c.subs[jobID]...)
	c.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- payload:
		default:
			c.logger.Warn().Str("job_id", jobID).Msg("progress subscriber channel full, dropping update")
		}
	}
}

// PublishProgress persists a progress snapshot and notifies subscribers.
// Failures are logged and swallowed: a broken progress channel must never
// fail the job it is reporting on.
func (c *PostgresChannel) PublishProgress(ctx context.Context, jobID string, status models.JobStatus, current, total int, message string, extra map[string]any) {
	payload := models.ProgressPayload{
		JobID:     jobID,
		Status:    status,
		Progress:  models.ComputeProgress(current, total, "", message),
		Timestamp: models.NaiveUTCTimestamp(time.Now()),
	}
	if extra != nil {
		payload.Result = extra
	}
	c.publish(ctx, jobID, payload)
}

// PublishCompletion persists and broadcasts the terminal status of a job.
func (c *PostgresChannel) PublishCompletion(ctx context.Context, jobID string, status models.JobStatus, result map[string]any, errMsg string) {
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
	c.publish(ctx, jobID, payload)
}

func (c *PostgresChannel) publish(ctx context.Context, jobID string, payload models.ProgressPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress channel: marshal failed")
		return
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress channel: begin transaction failed")
		return
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_progress (job_id, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`, jobID, body, time.Now().UTC()); err != nil {
		c.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress channel: persist snapshot failed")
		return
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channelName(jobID), string(body)); err != nil {
		c.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress channel: notify failed")
		return
	}

	if err := tx.Commit(); err != nil {
		c.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress channel: commit failed")
	}
}

// GetLastProgress returns the most recently persisted snapshot for jobID, if
// any.
func (c *PostgresChannel) GetLastProgress(ctx context.Context, jobID string) (*models.ProgressPayload, error) {
	var body []byte
	err := c.db.QueryRowContext(ctx, `SELECT payload FROM job_progress WHERE job_id = $1`, jobID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last progress: %w", err)
	}

	var payload models.ProgressPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal last progress: %w", err)
	}
	return &payload, nil
}

// Subscribe registers a durable subscriber for jobID's updates, lazily
// opening a *pq.Listener on job_progress_<job_id> the first time jobID gains
// a subscriber.
func (c *PostgresChannel) Subscribe(ctx context.Context, jobID string) (interfaces.Subscriber, error) {
	s := &postgresSubscriber{
		ch:     make(chan *models.ProgressPayload, 32),
		closed: make(chan struct{}),
	}

	c.mu.Lock()
	_, haveListener := c.listeners[jobID]
	c.subs[jobID] = append(c.subs[jobID], s)
	c.mu.Unlock()

	if !haveListener {
		name := channelName(jobID)
		reportProblem := func(ev pq.ListenerEventType, err error) {
			if err != nil {
				c.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress channel listener event")
			}
		}
		listener := pq.NewListener(c.connStr, 10*time.Second, time.Minute, reportProblem)
		if err := listener.Listen(name); err != nil {
			listener.Close()
			c.mu.Lock()
			c.removeSubLocked(jobID, s)
			c.mu.Unlock()
			return nil, fmt.Errorf("listen on %s: %w", name, err)
		}

		c.mu.Lock()
		c.listeners[jobID] = listener
		c.mu.Unlock()

		go c.dispatchLoop(jobID, listener)
	}

	s.unregister = func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.removeSubLocked(jobID, s)
		if len(c.subs[jobID]) == 0 {
			if listener, ok := c.listeners[jobID]; ok {
				listener.Close()
				delete(c.listeners, jobID)
			}
			delete(c.subs, jobID)
		}
	}

	return s, nil
}

// removeSubLocked removes s from c.subs[jobID]. Caller holds c.mu.
func (c *PostgresChannel) removeSubLocked(jobID string, s *postgresSubscriber) {
	list := c.subs[jobID]
	for i, cand := range list {
		if cand == s {
			c.subs[jobID] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// CleanupOld deletes job_progress rows older than maxAge.
func (c *PostgresChannel) CleanupOld(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UTC()
	res, err := c.db.ExecContext(ctx, `DELETE FROM job_progress WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old progress: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close stops every background listener connection still open.
func (c *PostgresChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for jobID, listener := range c.listeners {
		listener.Close()
		delete(c.listeners, jobID)
	}
	return nil
}

type postgresSubscriber struct {
	ch         chan *models.ProgressPayload
	closed     chan struct{}
	closeOnce  sync.Once
	unregister func()
}

func (s *postgresSubscriber) NextMessage(ctx context.Context, timeout time.Duration) (*models.ProgressPayload, error) {
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

func (s *postgresSubscriber) Close() error {
	s.closeOnce.Do(func() {
		if s.unregister != nil {
			s.unregister()
		}
		close(s.closed)
	})
	return nil
}

var (
	_ interfaces.ProgressChannel = (*PostgresChannel)(nil)
	_ interfaces.Subscriber      = (*postgresSubscriber)(nil)
)
