package server

import (
	"errors"
	"fmt"
	"time"

	"fitsync/record"
	"fitsync/store"
)

var (
	errUnauthorized = errors.New("not authorized for this record")
	errNotFound     = errors.New("record not found")
)

// applyOperation applies one sync operation against the server store and
// returns its outcome label. A nil error with OutcomeSkipped means the
// operation referenced an unknown table or kind and was deliberately
// ignored; any returned error fails only this operation, never the batch.
func (h *Handler) applyOperation(identity string, op record.Operation) (string, error) {
	if !record.Known(op.TableName) {
		h.logger.Warn("skipping operation for unknown table", "table", op.TableName, "id", op.ID)
		return OutcomeSkipped, nil
	}
	if !op.Op.Valid() {
		h.logger.Warn("skipping operation of unknown kind", "operation", string(op.Op), "id", op.ID)
		return OutcomeSkipped, nil
	}

	switch op.Op {
	case record.OpCreate:
		return h.applyCreate(identity, op)
	case record.OpUpdate:
		return h.applyUpdate(identity, op)
	default:
		return h.applyDelete(identity, op)
	}
}

// applyCreate upserts the record keyed by its primary id, so a replayed
// CREATE lands on the existing row instead of failing on a duplicate key.
func (h *Handler) applyCreate(identity string, op record.Operation) (string, error) {
	rec, err := record.Decode(op.TableName, op.RecordData)
	if err != nil {
		return OutcomeRejected, err
	}

	m := rec.RecordMeta()
	if m.ID == "" {
		m.ID = op.RecordID
	}

	// Ownership is checked against the payload for CREATE; there is no
	// prior row to consult.
	if op.TableName == record.TableUsers {
		user := rec.(*record.User)
		if user.Owner() != identity {
			return OutcomeUnauthorized, errUnauthorized
		}
		m.UserID = m.ID
	} else {
		if m.UserID != identity {
			return OutcomeUnauthorized, errUnauthorized
		}
		// Client and server can race on user-row creation; make sure
		// the parent user exists before inserting the child record.
		if err := h.ensureUser(m.UserID); err != nil {
			return OutcomeRejected, err
		}
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	m.SyncedAt = &now

	if err := h.store.Upsert(rec); err != nil {
		if errors.Is(err, store.ErrConstraint) {
			return OutcomeRejected, fmt.Errorf("missing parent record: %w", err)
		}
		return OutcomeRejected, err
	}
	return OutcomeApplied, nil
}

// applyUpdate fetches the current row first: the stored owner, not the
// payload, decides authorization.
func (h *Handler) applyUpdate(identity string, op record.Operation) (string, error) {
	existing, err := h.store.Get(op.TableName, op.RecordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return OutcomeRejected, errNotFound
		}
		return OutcomeRejected, err
	}
	if !h.ownedBy(existing, identity) {
		return OutcomeUnauthorized, errUnauthorized
	}

	rec, err := record.Decode(op.TableName, op.RecordData)
	if err != nil {
		return OutcomeRejected, err
	}

	now := time.Now().UTC()
	m := rec.RecordMeta()
	m.ID = op.RecordID
	m.UserID = existing.RecordMeta().UserID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = existing.RecordMeta().CreatedAt
	}
	m.UpdatedAt = now
	m.SyncedAt = &now

	if err := h.store.Upsert(rec); err != nil {
		return OutcomeRejected, err
	}
	return OutcomeApplied, nil
}

// applyDelete soft-deletes: the row is kept so the deletion itself remains
// synchronizable and a replay is a no-op. The delete payload carries only an
// id, so the existing row is fetched to discover its owner.
func (h *Handler) applyDelete(identity string, op record.Operation) (string, error) {
	existing, err := h.store.Get(op.TableName, op.RecordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return OutcomeRejected, errNotFound
		}
		return OutcomeRejected, err
	}
	if !h.ownedBy(existing, identity) {
		return OutcomeUnauthorized, errUnauthorized
	}

	now := time.Now().UTC()
	if err := h.store.SoftDelete(op.TableName, op.RecordID, now); err != nil {
		return OutcomeRejected, err
	}
	// Applying the delete is the acknowledgment, so restamp synced_at
	// here; SoftDelete itself clears it.
	if err := h.store.MarkRecordSynced(op.TableName, op.RecordID, now); err != nil {
		return OutcomeRejected, err
	}
	return OutcomeApplied, nil
}

// ownedBy reports whether the authenticated identity owns rec. For the root
// users table the record owns itself, via its id or attached clerk identity.
func (h *Handler) ownedBy(rec record.Record, identity string) bool {
	if user, ok := rec.(*record.User); ok {
		return user.Owner() == identity || user.ID == identity
	}
	return rec.RecordMeta().UserID == identity
}

// ensureUser upserts a minimal user row when none exists yet.
func (h *Handler) ensureUser(userID string) error {
	_, _, err := h.store.Owner(record.TableUsers, userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	now := time.Now().UTC()
	user := &record.User{Meta: record.Meta{
		ID:        userID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		SyncedAt:  &now,
	}}
	return h.store.Upsert(user)
}
