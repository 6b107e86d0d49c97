package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

type spannerBatchStore struct {
	client *spanner.Client
}

func (s *spannerBatchStore) CreateBatch(ctx context.Context, fxaUID string, collectionID int64, batchID string, expiry clock.SyncTimestamp) error {
	_, err := s.client.Apply(ctx, []*spanner.Mutation{
		spanner.InsertOrUpdate("Batches", []string{"FxaUID", "BatchID", "CollectionID", "Expiry"},
			[]interface{}{fxaUID, batchID, collectionID, int64(expiry)}),
	})
	return err
}

func (s *spannerBatchStore) AppendBatch(ctx context.Context, fxaUID, batchID string, items []types.BSOInput) error {
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, tx *spanner.ReadWriteTransaction) error {
		row, err := tx.ReadRow(ctx, "Batches", spanner.Key{fxaUID, batchID}, []string{"Expiry"})
		if spanner.ErrCode(err) == codes.NotFound {
			return fmt.Errorf("storage: batch %q: %w", batchID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		var expiry int64
		if err := row.Column(0, &expiry); err != nil {
			return err
		}
		if clock.IsExpired(clock.SyncTimestamp(expiry), clock.FromTime(nowFunc())) {
			return fmt.Errorf("storage: batch %q expired: %w", batchID, ErrNotFound)
		}

		iter := tx.Query(ctx, spanner.Statement{
			SQL:    `SELECT COALESCE(MAX(Seq), -1) FROM BatchItems WHERE FxaUID = @fxaUID AND BatchID = @batchID`,
			Params: map[string]interface{}{"fxaUID": fxaUID, "batchID": batchID},
		})
		defer iter.Stop()
		row, err = iter.Next()
		if err != nil && err != iterator.Done {
			return err
		}
		var lastSeq int64 = -1
		if row != nil {
			if err := row.Column(0, &lastSeq); err != nil {
				return err
			}
		}

		var mutations []*spanner.Mutation
		for _, item := range items {
			lastSeq++
			var payload, sortIndex, ttl interface{}
			if item.Payload != nil {
				payload = *item.Payload
			}
			if item.SortIndex != nil {
				sortIndex = *item.SortIndex
			}
			if item.TTL != nil {
				ttl = *item.TTL
			}
			mutations = append(mutations, spanner.InsertOrUpdate("BatchItems",
				[]string{"FxaUID", "BatchID", "Seq", "BsoID", "Payload", "SortIndex", "TTL"},
				[]interface{}{fxaUID, batchID, lastSeq, item.ID, payload, sortIndex, ttl}))
		}
		return tx.BufferWrite(mutations)
	})
	return err
}

func (s *spannerBatchStore) LoadBatch(ctx context.Context, fxaUID, batchID string) ([]types.BSOInput, int64, error) {
	row, err := s.client.Single().ReadRow(ctx, "Batches", spanner.Key{fxaUID, batchID}, []string{"CollectionID", "Expiry"})
	if spanner.ErrCode(err) == codes.NotFound {
		return nil, 0, fmt.Errorf("storage: batch %q: %w", batchID, ErrNotFound)
	}
	if err != nil {
		return nil, 0, err
	}
	var collectionID, expiry int64
	if err := row.Columns(&collectionID, &expiry); err != nil {
		return nil, 0, err
	}
	if clock.IsExpired(clock.SyncTimestamp(expiry), clock.FromTime(nowFunc())) {
		return nil, 0, fmt.Errorf("storage: batch %q expired: %w", batchID, ErrNotFound)
	}

	iter := s.client.Single().Query(ctx, spanner.Statement{
		SQL:    `SELECT BsoID, Payload, SortIndex, TTL FROM BatchItems WHERE FxaUID = @fxaUID AND BatchID = @batchID ORDER BY Seq ASC`,
		Params: map[string]interface{}{"fxaUID": fxaUID, "batchID": batchID},
	})
	defer iter.Stop()

	var items []types.BSOInput
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		var item types.BSOInput
		var payload spanner.NullString
		var sortIndex, ttl spanner.NullInt64
		if err := row.Columns(&item.ID, &payload, &sortIndex, &ttl); err != nil {
			return nil, 0, err
		}
		if payload.Valid {
			item.Payload = &payload.StringVal
		}
		if sortIndex.Valid {
			item.SortIndex = &sortIndex.Int64
		}
		if ttl.Valid {
			item.TTL = &ttl.Int64
		}
		items = append(items, item)
	}
	return items, collectionID, nil
}

func (s *spannerBatchStore) DeleteBatch(ctx context.Context, fxaUID, batchID string) error {
	_, err := s.client.Apply(ctx, []*spanner.Mutation{
		spanner.Delete("BatchItems", spanner.KeyRange{
			Start: spanner.Key{fxaUID, batchID},
			End:   spanner.Key{fxaUID, batchID},
			Kind:  spanner.ClosedClosed,
		}),
		spanner.Delete("Batches", spanner.Key{fxaUID, batchID}),
	})
	return err
}
