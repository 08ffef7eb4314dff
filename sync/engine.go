package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fitsync/record"
	"fitsync/store"
)

var (
	// ErrSyncInProgress is returned when SyncNow is called while another
	// sync is in flight. Concurrent calls are rejected, not queued.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrUnauthenticated is returned when no identity has been persisted;
	// no operation is attempted without one.
	ErrUnauthenticated = errors.New("no authenticated identity")
)

// Options configures an Engine.
type Options struct {
	Interval time.Duration // background sync interval
	Logger   *slog.Logger
}

// Result summarizes one SyncNow call.
type Result struct {
	NoOp      bool // nothing was due; no network request was made
	Submitted int
	Synced    int
	Failed    int
	Merged    int
}

// Engine orchestrates synchronization: draining the operation log into a
// batch, submitting it, reconciling the per-operation report, and merging
// remote deltas. At most one sync runs at a time; the syncing flag is the
// sole guard and a second caller gets ErrSyncInProgress.
type Engine struct {
	store  *store.Store
	log    *store.OpLog
	state  *store.State
	client *Client
	logger *slog.Logger

	interval time.Duration
	syncing  atomic.Bool

	mu     sync.Mutex // guards the background ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an Engine.
func New(st *store.Store, log *store.OpLog, state *store.State, client *Client, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:    st,
		log:      log,
		state:    state,
		client:   client,
		logger:   opts.Logger,
		interval: opts.Interval,
	}
}

// SyncNow drains due operations and submits them as one batch. Expected
// failure modes (transport errors, per-operation rejections) never escape as
// errors; they are annotated on the log and reflected in the Result so the
// next cycle retries. Only ErrSyncInProgress and ErrUnauthenticated are
// returned to the caller.
func (e *Engine) SyncNow(ctx context.Context) (*Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	now := time.Now().UTC()
	entries, err := e.log.Unsynced(now)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		// Nothing due: skip the round trip entirely.
		return &Result{NoOp: true}, nil
	}

	identity, err := e.state.Identity()
	if err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, ErrUnauthenticated
	}

	batch := record.BatchRequest{Operations: make([]record.Operation, 0, len(entries))}
	for _, entry := range entries {
		batch.Operations = append(batch.Operations, record.Operation{
			ID:         entry.ID,
			Op:         entry.Op,
			TableName:  entry.TableName,
			RecordID:   entry.RecordID,
			RecordData: entry.RecordData,
			Timestamp:  entry.Timestamp,
		})
	}

	result := &Result{Submitted: len(entries)}

	report, err := e.client.SubmitBatch(ctx, identity, batch)
	if err != nil {
		// Transport failure: the whole batch stays unsynced and retries
		// on the next cycle.
		e.logger.Warn("sync batch failed", "operations", len(entries), "error", err)
		for _, entry := range entries {
			if markErr := e.log.MarkFailed(entry.ID, err.Error(), now); markErr != nil {
				e.logger.Error("failed to mark operation failed", "id", entry.ID, "error", markErr)
			}
		}
		result.Failed = len(entries)
		e.finishAttempt(now)
		return result, nil
	}

	// Reconcile against the per-operation report rather than assuming
	// blanket success.
	failed := make(map[string]string, len(report.Errors))
	for _, opErr := range report.Errors {
		failed[opErr.OperationID] = opErr.Error
	}

	for _, entry := range entries {
		if msg, bad := failed[entry.ID]; bad {
			if err := e.log.MarkFailed(entry.ID, msg, now); err != nil {
				e.logger.Error("failed to mark operation failed", "id", entry.ID, "error", err)
			}
			result.Failed++
			continue
		}
		if err := e.log.MarkSynced(entry.ID); err != nil {
			e.logger.Error("failed to mark operation synced", "id", entry.ID, "error", err)
			continue
		}
		if err := e.store.MarkRecordSynced(entry.TableName, entry.RecordID, now); err != nil {
			e.logger.Debug("failed to stamp record synced_at", "table", entry.TableName, "id", entry.RecordID, "error", err)
		}
		result.Synced++
	}

	if pruned, err := e.log.ClearSynced(); err != nil {
		e.logger.Error("failed to prune operation log", "error", err)
	} else if pruned > 0 {
		e.logger.Debug("pruned synced operations", "count", pruned)
	}

	e.finishAttempt(now)
	e.logger.Info("sync completed", "submitted", result.Submitted, "synced", result.Synced, "failed", result.Failed)
	return result, nil
}

// finishAttempt records the completion time of an attempt, success or
// handled failure alike.
func (e *Engine) finishAttempt(at time.Time) {
	if err := e.state.SetLastSyncTime(at); err != nil {
		e.logger.Error("failed to persist last sync time", "error", err)
	}
}

// IsSyncing reports whether a sync is currently in flight.
func (e *Engine) IsSyncing() bool {
	return e.syncing.Load()
}

// StartBackground launches the fixed-interval sync timer. Any previously
// running timer is stopped first, so repeated calls never leak goroutines.
func (e *Engine) StartBackground() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()

	stopCh := make(chan struct{})
	e.stopCh = stopCh
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				e.tick()
			}
		}
	}()
	e.logger.Info("background sync started", "interval", e.interval)
}

func (e *Engine) tick() {
	enabled, err := e.state.SyncEnabled()
	if err != nil {
		e.logger.Error("failed to read sync_enabled", "error", err)
		return
	}
	if !enabled {
		return
	}

	_, err = e.SyncNow(context.Background())
	switch {
	case errors.Is(err, ErrSyncInProgress):
		// A previous sync is still running; this tick is a no-op.
	case errors.Is(err, ErrUnauthenticated):
		e.logger.Debug("background sync skipped: not logged in")
	case err != nil:
		e.logger.Warn("background sync failed", "error", err)
	}
}

// StopBackground stops the background timer and waits for an in-flight tick
// to return.
func (e *Engine) StopBackground() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
		e.wg.Wait()
	}
}
