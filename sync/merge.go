package sync

import (
	"context"
	"errors"
	"time"

	"fitsync/record"
	"fitsync/store"
)

// MergeResult summarizes a remote-delta merge.
type MergeResult struct {
	Inserted int
	Updated  int
}

// FetchRemote pulls the caller's records updated since the given time.
func (e *Engine) FetchRemote(ctx context.Context, since *time.Time) (*record.FetchResponse, error) {
	identity, err := e.state.Identity()
	if err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, ErrUnauthenticated
	}
	return e.client.Fetch(ctx, identity, since)
}

// MergeRemote pulls remote deltas and merges them into the local store with
// an existence check per record: found rows are updated in place, missing
// rows inserted. The merge is last-write-wins; remote state replaces local
// state with no field-level conflict detection. Merged writes bypass the
// operation log so they are never echoed back to the server.
func (e *Engine) MergeRemote(ctx context.Context, since *time.Time) (*MergeResult, error) {
	identity, err := e.state.Identity()
	if err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, ErrUnauthenticated
	}

	remote, err := e.client.Fetch(ctx, identity, since)
	if err != nil {
		return nil, err
	}

	// Remote children reference the identity's user row; make sure it
	// exists locally before any merge write trips the foreign key.
	if err := e.ensureLocalUser(identity); err != nil {
		return nil, err
	}

	result := &MergeResult{}
	for _, hp := range remote.HealthProfiles {
		if err := e.mergeOne(hp, result); err != nil {
			return result, err
		}
	}
	for _, w := range remote.Workouts {
		workout := w.Workout
		if err := e.mergeOne(&workout, result); err != nil {
			return result, err
		}
		for _, ex := range w.Exercises {
			if err := e.mergeOne(ex, result); err != nil {
				return result, err
			}
		}
	}
	for _, m := range remote.Meals {
		if err := e.mergeOne(m, result); err != nil {
			return result, err
		}
	}
	for _, pl := range remote.ProgressLogs {
		if err := e.mergeOne(pl, result); err != nil {
			return result, err
		}
	}

	e.logger.Info("remote merge completed", "inserted", result.Inserted, "updated", result.Updated)
	return result, nil
}

func (e *Engine) mergeOne(rec record.Record, result *MergeResult) error {
	m := rec.RecordMeta()
	_, err := e.store.Get(rec.Table(), m.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := e.store.Create(rec); err != nil {
			return err
		}
		result.Inserted++
	case err != nil:
		return err
	default:
		if err := e.store.Update(rec); err != nil {
			return err
		}
		result.Updated++
	}
	return nil
}

func (e *Engine) ensureLocalUser(identity string) error {
	_, err := e.store.Get(record.TableUsers, identity)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	now := time.Now().UTC()
	user := &record.User{Meta: record.Meta{
		ID:        identity,
		UserID:    identity,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	return e.store.Create(user)
}
