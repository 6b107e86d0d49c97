package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// sqlBatchStore stores staged batch rows across two tables: one row per
// open batch in "batches", and one row per staged BSO in "batch_items",
// ordered by an append sequence so CommitBatch applies them in the order
// the client sent them.
type sqlBatchStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlBatchStore) CreateBatch(ctx context.Context, fxaUID string, collectionID int64, batchID string, expiry clock.SyncTimestamp) error {
	q := fmt.Sprintf(`INSERT INTO batches (fxa_uid, batch_id, collection_id, expiry) VALUES (%s)`, s.dialect.ph(4))
	_, err := s.db.ExecContext(ctx, q, fxaUID, batchID, collectionID, int64(expiry))
	return err
}

func (s *sqlBatchStore) AppendBatch(ctx context.Context, fxaUID, batchID string, items []types.BSOInput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	expQ := fmt.Sprintf(`SELECT expiry FROM batches WHERE fxa_uid = %s AND batch_id = %s`,
		s.dialect.placeholder(1), s.dialect.placeholder(2))
	var expiry int64
	if err := tx.QueryRowContext(ctx, expQ, fxaUID, batchID).Scan(&expiry); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("storage: batch %q: %w", batchID, ErrNotFound)
		}
		return err
	}
	if clock.IsExpired(clock.SyncTimestamp(expiry), clock.FromTime(nowFunc())) {
		return fmt.Errorf("storage: batch %q expired: %w", batchID, ErrNotFound)
	}

	seqQ := fmt.Sprintf(`SELECT COALESCE(MAX(seq), -1) FROM batch_items WHERE fxa_uid = %s AND batch_id = %s`,
		s.dialect.placeholder(1), s.dialect.placeholder(2))
	var lastSeq int64
	if err := tx.QueryRowContext(ctx, seqQ, fxaUID, batchID).Scan(&lastSeq); err != nil {
		return err
	}

	insQ := fmt.Sprintf(`INSERT INTO batch_items (fxa_uid, batch_id, seq, bso_id, payload, sortindex, ttl) VALUES (%s)`,
		s.dialect.ph(7))
	for _, item := range items {
		lastSeq++
		var payload interface{}
		if item.Payload != nil {
			payload = *item.Payload
		}
		var sortIndex interface{}
		if item.SortIndex != nil {
			sortIndex = *item.SortIndex
		}
		var ttl interface{}
		if item.TTL != nil {
			ttl = *item.TTL
		}
		if _, err := tx.ExecContext(ctx, insQ, fxaUID, batchID, lastSeq, item.ID, payload, sortIndex, ttl); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlBatchStore) LoadBatch(ctx context.Context, fxaUID, batchID string) ([]types.BSOInput, int64, error) {
	var collectionID, expiry int64
	metaQ := fmt.Sprintf(`SELECT collection_id, expiry FROM batches WHERE fxa_uid = %s AND batch_id = %s`,
		s.dialect.placeholder(1), s.dialect.placeholder(2))
	if err := s.db.QueryRowContext(ctx, metaQ, fxaUID, batchID).Scan(&collectionID, &expiry); err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, fmt.Errorf("storage: batch %q: %w", batchID, ErrNotFound)
		}
		return nil, 0, err
	}
	if clock.IsExpired(clock.SyncTimestamp(expiry), clock.FromTime(nowFunc())) {
		return nil, 0, fmt.Errorf("storage: batch %q expired: %w", batchID, ErrNotFound)
	}

	itemsQ := fmt.Sprintf(`SELECT bso_id, payload, sortindex, ttl FROM batch_items
		WHERE fxa_uid = %s AND batch_id = %s ORDER BY seq ASC`,
		s.dialect.placeholder(1), s.dialect.placeholder(2))
	rows, err := s.db.QueryContext(ctx, itemsQ, fxaUID, batchID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []types.BSOInput
	for rows.Next() {
		var item types.BSOInput
		var payload sql.NullString
		var sortIndex, ttl sql.NullInt64
		if err := rows.Scan(&item.ID, &payload, &sortIndex, &ttl); err != nil {
			return nil, 0, err
		}
		if payload.Valid {
			item.Payload = &payload.String
		}
		if sortIndex.Valid {
			item.SortIndex = &sortIndex.Int64
		}
		if ttl.Valid {
			item.TTL = &ttl.Int64
		}
		items = append(items, item)
	}
	return items, collectionID, rows.Err()
}

func (s *sqlBatchStore) DeleteBatch(ctx context.Context, fxaUID, batchID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q1 := fmt.Sprintf(`DELETE FROM batch_items WHERE fxa_uid = %s AND batch_id = %s`,
		s.dialect.placeholder(1), s.dialect.placeholder(2))
	if _, err := tx.ExecContext(ctx, q1, fxaUID, batchID); err != nil {
		return err
	}
	q2 := fmt.Sprintf(`DELETE FROM batches WHERE fxa_uid = %s AND batch_id = %s`,
		s.dialect.placeholder(1), s.dialect.placeholder(2))
	if _, err := tx.ExecContext(ctx, q2, fxaUID, batchID); err != nil {
		return err
	}
	return tx.Commit()
}
