package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/pagination"
	"github.com/mozilla-services/syncstorage-go/pkg/quota"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// dialect isolates the handful of ways MySQL and Postgres disagree about
// SQL syntax, so the bulk of SQLBackend's logic can be written once.
type dialect struct {
	name string

	// placeholder returns the bind parameter for the nth (1-based)
	// argument of a statement: "?" for MySQL, "$n" for Postgres.
	placeholder func(n int) string

	// forUpdate is appended to a SELECT to take a row lock.
	forUpdate string

	// upsertCollection returns a statement that inserts a collection's
	// modified row or updates it if one already exists.
	upsertCollection string
}

var mysqlDialect = dialect{
	name:      "mysql",
	placeholder: func(int) string { return "?" },
	forUpdate: "FOR UPDATE",
	upsertCollection: `INSERT INTO collections (fxa_uid, collection_id, modified) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE modified = VALUES(modified)`,
}

var postgresDialect = dialect{
	name: "postgres",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	forUpdate: "FOR UPDATE",
	upsertCollection: `INSERT INTO collections (fxa_uid, collection_id, modified) VALUES ($1, $2, $3)
		ON CONFLICT (fxa_uid, collection_id) DO UPDATE SET modified = $3`,
}

// ph renders a 1-based placeholder list "?, ?, ?" or "$1, $2, $3".
func (d dialect) ph(n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = d.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS collections (
	fxa_uid       VARCHAR(64) NOT NULL,
	collection_id BIGINT      NOT NULL,
	modified      BIGINT      NOT NULL,
	PRIMARY KEY (fxa_uid, collection_id)
);
CREATE TABLE IF NOT EXISTS collection_names (
	fxa_uid       VARCHAR(64)  NOT NULL,
	name          VARCHAR(255) NOT NULL,
	collection_id BIGINT       NOT NULL,
	PRIMARY KEY (fxa_uid, name)
);
CREATE TABLE IF NOT EXISTS collection_seq (
	fxa_uid VARCHAR(64) NOT NULL,
	next_id BIGINT NOT NULL,
	PRIMARY KEY (fxa_uid)
);
CREATE TABLE IF NOT EXISTS bsos (
	fxa_uid       VARCHAR(64)  NOT NULL,
	collection_id BIGINT       NOT NULL,
	bso_id        VARCHAR(64)  NOT NULL,
	sortindex     BIGINT       NOT NULL DEFAULT 0,
	payload       TEXT         NOT NULL DEFAULT '',
	payload_size  BIGINT       NOT NULL DEFAULT 0,
	modified      BIGINT       NOT NULL,
	expiry        BIGINT       NOT NULL,
	PRIMARY KEY (fxa_uid, collection_id, bso_id)
);
CREATE TABLE IF NOT EXISTS batches (
	fxa_uid       VARCHAR(64) NOT NULL,
	batch_id      VARCHAR(64) NOT NULL,
	collection_id BIGINT      NOT NULL,
	expiry        BIGINT      NOT NULL,
	PRIMARY KEY (fxa_uid, batch_id)
);
CREATE TABLE IF NOT EXISTS batch_items (
	fxa_uid  VARCHAR(64) NOT NULL,
	batch_id VARCHAR(64) NOT NULL,
	seq      BIGINT      NOT NULL,
	bso_id   VARCHAR(64) NOT NULL,
	payload  TEXT,
	sortindex BIGINT,
	ttl      BIGINT,
	PRIMARY KEY (fxa_uid, batch_id, seq)
);
`

// SQLBackend implements Backend over any database/sql driver that speaks
// one of the two supported dialects. NewMySQLBackend and
// NewPostgresBackend are the only constructors; the struct's fields stay
// unexported so callers can't accidentally mix a *sql.DB with the wrong
// dialect.
type SQLBackend struct {
	db      *sql.DB
	dialect dialect
	locks   *KeyedMutex
}

func openSQLBackend(driverName, dsn string, d dialect) (*SQLBackend, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", d.name, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", d.name, err)
	}
	for _, stmt := range strings.Split(sqlSchema, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: apply schema: %w", err)
		}
	}
	return &SQLBackend{db: db, dialect: d, locks: NewKeyedMutex()}, nil
}

func (b *SQLBackend) Close() error { return b.db.Close() }

// --- idmap.Resolver -----------------------------------------------------

func (b *SQLBackend) Lookup(ctx context.Context, fxaUID, name string) (int64, bool, error) {
	q := fmt.Sprintf(`SELECT collection_id FROM collection_names WHERE fxa_uid = %s AND name = %s`,
		b.dialect.placeholder(1), b.dialect.placeholder(2))
	var id int64
	err := b.db.QueryRowContext(ctx, q, fxaUID, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage: lookup collection %q: %w", name, err)
	}
	return id, true, nil
}

func (b *SQLBackend) Allocate(ctx context.Context, fxaUID, name string) (int64, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	lookupQ := fmt.Sprintf(`SELECT collection_id FROM collection_names WHERE fxa_uid = %s AND name = %s %s`,
		b.dialect.placeholder(1), b.dialect.placeholder(2), b.dialect.forUpdate)
	var id int64
	err = tx.QueryRowContext(ctx, lookupQ, fxaUID, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("storage: allocate lookup %q: %w", name, err)
	}

	seqQ := fmt.Sprintf(`SELECT next_id FROM collection_seq WHERE fxa_uid = %s %s`,
		b.dialect.placeholder(1), b.dialect.forUpdate)
	next := int64(types.FirstUserDefinedCollectionID)
	err = tx.QueryRowContext(ctx, seqQ, fxaUID).Scan(&next)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("storage: allocate read seq: %w", err)
	}

	upsertSeqQ := fmt.Sprintf(`INSERT INTO collection_seq (fxa_uid, next_id) VALUES (%s, %s)`,
		b.dialect.placeholder(1), b.dialect.placeholder(2))
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, upsertSeqQ, fxaUID, next+1); err != nil {
			return 0, err
		}
	} else {
		updQ := fmt.Sprintf(`UPDATE collection_seq SET next_id = %s WHERE fxa_uid = %s`,
			b.dialect.placeholder(1), b.dialect.placeholder(2))
		if _, err := tx.ExecContext(ctx, updQ, next+1, fxaUID); err != nil {
			return 0, err
		}
	}

	insQ := fmt.Sprintf(`INSERT INTO collection_names (fxa_uid, name, collection_id) VALUES (%s, %s, %s)`,
		b.dialect.placeholder(1), b.dialect.placeholder(2), b.dialect.placeholder(3))
	if _, err := tx.ExecContext(ctx, insQ, fxaUID, name, next); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func (b *SQLBackend) Names(ctx context.Context, fxaUID string) (map[string]int64, error) {
	q := fmt.Sprintf(`SELECT name, collection_id FROM collection_names WHERE fxa_uid = %s`, b.dialect.placeholder(1))
	rows, err := b.db.QueryContext(ctx, q, fxaUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var id int64
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, rows.Err()
}

// --- per-collection transaction ------------------------------------------

func (b *SQLBackend) WithTx(ctx context.Context, fxaUID string, collectionID int64, mode TxMode, fn func(Tx) error) error {
	key := collectionKey(fxaUID, collectionID)
	return b.locks.withLock(key, mode, func() error {
		sqlTx, err := b.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: mode == ReadOnly})
		if err != nil {
			return err
		}

		if mode == ReadWrite {
			// Take the row lock proactively so a PUT that has to insert
			// the collection row doesn't race another writer doing the
			// same insert; SELECT ... FOR UPDATE on a row that may not
			// exist yet still serializes against concurrent inserts on
			// most engines via a gap/next-key lock.
			lockQ := fmt.Sprintf(`SELECT modified FROM collections WHERE fxa_uid = %s AND collection_id = %s %s`,
				b.dialect.placeholder(1), b.dialect.placeholder(2), b.dialect.forUpdate)
			var discard int64
			if err := sqlTx.QueryRowContext(ctx, lockQ, fxaUID, collectionID).Scan(&discard); err != nil && err != sql.ErrNoRows {
				sqlTx.Rollback()
				return err
			}
		}

		t := &sqlTxWrapper{ctx: ctx, tx: sqlTx, dialect: b.dialect, fxaUID: fxaUID, collectionID: collectionID}
		if err := fn(t); err != nil {
			sqlTx.Rollback()
			return err
		}
		return sqlTx.Commit()
	})
}

type sqlTxWrapper struct {
	ctx          context.Context
	tx           *sql.Tx
	dialect      dialect
	fxaUID       string
	collectionID int64
}

func (t *sqlTxWrapper) Modified() (clock.SyncTimestamp, bool, error) {
	q := fmt.Sprintf(`SELECT modified FROM collections WHERE fxa_uid = %s AND collection_id = %s`,
		t.dialect.placeholder(1), t.dialect.placeholder(2))
	var modified int64
	err := t.tx.QueryRowContext(t.ctx, q, t.fxaUID, t.collectionID).Scan(&modified)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return clock.SyncTimestamp(modified), true, nil
}

func (t *sqlTxWrapper) SetModified(ts clock.SyncTimestamp) error {
	_, err := t.tx.ExecContext(t.ctx, t.dialect.upsertCollection, t.fxaUID, t.collectionID, int64(ts))
	return err
}

func (t *sqlTxWrapper) GetBSO(id string) (types.BSO, error) {
	now := clock.FromTime(nowFunc())
	q := fmt.Sprintf(`SELECT bso_id, sortindex, payload, modified, expiry FROM bsos
		WHERE fxa_uid = %s AND collection_id = %s AND bso_id = %s AND expiry > %s`,
		t.dialect.placeholder(1), t.dialect.placeholder(2), t.dialect.placeholder(3), t.dialect.placeholder(4))
	var bso types.BSO
	err := t.tx.QueryRowContext(t.ctx, q, t.fxaUID, t.collectionID, id, int64(now)).
		Scan(&bso.ID, &bso.SortIndex, &bso.Payload, (*int64)(&bso.Modified), (*int64)(&bso.Expiry))
	if err == sql.ErrNoRows {
		return types.BSO{}, fmt.Errorf("bso %q: %w", id, ErrNotFound)
	}
	return bso, err
}

func (t *sqlTxWrapper) PutBSO(bso types.BSO) (bool, error) {
	existsQ := fmt.Sprintf(`SELECT 1 FROM bsos WHERE fxa_uid = %s AND collection_id = %s AND bso_id = %s`,
		t.dialect.placeholder(1), t.dialect.placeholder(2), t.dialect.placeholder(3))
	var found int
	err := t.tx.QueryRowContext(t.ctx, existsQ, t.fxaUID, t.collectionID, bso.ID).Scan(&found)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	created := err == sql.ErrNoRows

	if created {
		insQ := fmt.Sprintf(`INSERT INTO bsos
			(fxa_uid, collection_id, bso_id, sortindex, payload, payload_size, modified, expiry)
			VALUES (%s)`, t.dialect.ph(8))
		_, err = t.tx.ExecContext(t.ctx, insQ,
			t.fxaUID, t.collectionID, bso.ID, bso.SortIndex, bso.Payload, len(bso.Payload),
			int64(bso.Modified), int64(bso.Expiry))
		return true, err
	}

	updQ := fmt.Sprintf(`UPDATE bsos SET sortindex = %s, payload = %s, payload_size = %s, modified = %s, expiry = %s
		WHERE fxa_uid = %s AND collection_id = %s AND bso_id = %s`,
		t.dialect.placeholder(1), t.dialect.placeholder(2), t.dialect.placeholder(3), t.dialect.placeholder(4),
		t.dialect.placeholder(5), t.dialect.placeholder(6), t.dialect.placeholder(7), t.dialect.placeholder(8))
	_, err = t.tx.ExecContext(t.ctx, updQ,
		bso.SortIndex, bso.Payload, len(bso.Payload), int64(bso.Modified), int64(bso.Expiry),
		t.fxaUID, t.collectionID, bso.ID)
	return false, err
}

func (t *sqlTxWrapper) DeleteBSO(id string) (bool, error) {
	q := fmt.Sprintf(`DELETE FROM bsos WHERE fxa_uid = %s AND collection_id = %s AND bso_id = %s`,
		t.dialect.placeholder(1), t.dialect.placeholder(2), t.dialect.placeholder(3))
	res, err := t.tx.ExecContext(t.ctx, q, t.fxaUID, t.collectionID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *sqlTxWrapper) DeleteBSOs(ids []string) ([]string, error) {
	var deleted []string
	for _, id := range ids {
		ok, err := t.DeleteBSO(id)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (t *sqlTxWrapper) DeleteCollection() error {
	q := fmt.Sprintf(`DELETE FROM bsos WHERE fxa_uid = %s AND collection_id = %s`,
		t.dialect.placeholder(1), t.dialect.placeholder(2))
	if _, err := t.tx.ExecContext(t.ctx, q, t.fxaUID, t.collectionID); err != nil {
		return err
	}
	q2 := fmt.Sprintf(`DELETE FROM collections WHERE fxa_uid = %s AND collection_id = %s`,
		t.dialect.placeholder(1), t.dialect.placeholder(2))
	_, err := t.tx.ExecContext(t.ctx, q2, t.fxaUID, t.collectionID)
	return err
}

func (t *sqlTxWrapper) GetBSOs(q types.GetBSOsQuery) (types.GetBSOsResult, error) {
	now := clock.FromTime(nowFunc())

	where := fmt.Sprintf("fxa_uid = %s AND collection_id = %s AND expiry > %s",
		t.dialect.placeholder(1), t.dialect.placeholder(2), t.dialect.placeholder(3))
	args := []interface{}{t.fxaUID, t.collectionID, int64(now)}
	next := 4

	if len(q.IDs) > 0 {
		ids := q.IDs
		if len(ids) > 100 {
			ids = ids[:100]
		}
		placeholders := make([]string, len(ids))
		for i, id := range ids {
			placeholders[i] = t.dialect.placeholder(next)
			args = append(args, id)
			next++
		}
		where += fmt.Sprintf(" AND bso_id IN (%s)", strings.Join(placeholders, ", "))
	}
	if q.Newer != nil {
		where += fmt.Sprintf(" AND modified > %s", t.dialect.placeholder(next))
		args = append(args, int64(*q.Newer))
		next++
	}
	if q.Older != nil {
		where += fmt.Sprintf(" AND modified < %s", t.dialect.placeholder(next))
		args = append(args, int64(*q.Older))
		next++
	}

	orderBy := ""
	switch q.Sort {
	case types.SortNewest:
		orderBy = "ORDER BY modified DESC"
	case types.SortOldest:
		orderBy = "ORDER BY modified ASC"
	case types.SortIndexDesc:
		orderBy = "ORDER BY sortindex DESC"
	}

	limit := q.Limit
	if limit <= 0 || limit > types.MaxGetBSOsLimit {
		limit = types.MaxGetBSOsLimit
	}

	offset, err := pagination.Decode(q.Offset)
	if err != nil {
		return types.GetBSOsResult{}, err
	}

	countQ := fmt.Sprintf(`SELECT COUNT(1) FROM bsos WHERE %s`, where)
	var total int64
	if err := t.tx.QueryRowContext(t.ctx, countQ, args...).Scan(&total); err != nil {
		return types.GetBSOsResult{}, err
	}

	limitArgs := append(append([]interface{}{}, args...), limit, offset)
	resultQ := fmt.Sprintf(`SELECT bso_id, sortindex, payload, modified, expiry FROM bsos WHERE %s %s LIMIT %s OFFSET %s`,
		where, orderBy, t.dialect.placeholder(next), t.dialect.placeholder(next+1))

	rows, err := t.tx.QueryContext(t.ctx, resultQ, limitArgs...)
	if err != nil {
		return types.GetBSOsResult{}, err
	}
	defer rows.Close()

	var bsos []types.BSO
	for rows.Next() {
		var bso types.BSO
		if err := rows.Scan(&bso.ID, &bso.SortIndex, &bso.Payload, (*int64)(&bso.Modified), (*int64)(&bso.Expiry)); err != nil {
			return types.GetBSOsResult{}, err
		}
		bsos = append(bsos, bso)
	}

	result := types.GetBSOsResult{BSOs: bsos}
	if total > offset+limit {
		off := pagination.Encode(offset + limit)
		result.Offset = &off
	}
	return result, rows.Err()
}

// --- account-wide operations ---------------------------------------------

func (b *SQLBackend) CollectionMeta(ctx context.Context, fxaUID string) (map[int64]CollectionMeta, error) {
	out := make(map[int64]CollectionMeta)

	modQ := fmt.Sprintf(`SELECT collection_id, modified FROM collections WHERE fxa_uid = %s`, b.dialect.placeholder(1))
	rows, err := b.db.QueryContext(ctx, modQ, fxaUID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id, modified int64
		if err := rows.Scan(&id, &modified); err != nil {
			rows.Close()
			return nil, err
		}
		out[id] = CollectionMeta{Modified: clock.SyncTimestamp(modified)}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := clock.FromTime(nowFunc())
	aggQ := fmt.Sprintf(`SELECT collection_id, COUNT(1), COALESCE(SUM(payload_size), 0) FROM bsos
		WHERE fxa_uid = %s AND expiry > %s GROUP BY collection_id`, b.dialect.placeholder(1), b.dialect.placeholder(2))
	rows, err = b.db.QueryContext(ctx, aggQ, fxaUID, int64(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, count, bytes int64
		if err := rows.Scan(&id, &count, &bytes); err != nil {
			return nil, err
		}
		meta := out[id]
		meta.Count = count
		meta.Bytes = bytes
		out[id] = meta
	}
	return out, rows.Err()
}

func (b *SQLBackend) AccountUsage(ctx context.Context, fxaUID string) (quota.Usage, error) {
	meta, err := b.CollectionMeta(ctx, fxaUID)
	if err != nil {
		return quota.Usage{}, err
	}
	var total int64
	for _, m := range meta {
		total += m.Bytes
	}
	return quota.Usage{TotalBytes: total}, nil
}

func (b *SQLBackend) DeleteAll(ctx context.Context, fxaUID string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"bsos", "collections", "collection_names", "collection_seq", "batch_items", "batches"} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE fxa_uid = %s`, table, b.dialect.placeholder(1))
		if _, err := tx.ExecContext(ctx, q, fxaUID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *SQLBackend) Batches() BatchStore {
	return &sqlBatchStore{db: b.db, dialect: b.dialect}
}
