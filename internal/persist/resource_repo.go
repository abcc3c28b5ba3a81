package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/simcore/engine/internal/resource"
)

// ResourceRow is one stored payload.
type ResourceRow struct {
	Hash    uint64
	Type    resource.Type
	Payload []byte
}

// ResourceRepo stores resource payloads in the resources table. It is a
// resource.Source. Hashes are stored as the int64 with the same bits.
type ResourceRepo struct {
	db *DB
}

func NewResourceRepo(db *DB) *ResourceRepo {
	return &ResourceRepo{db: db}
}

// Fetch returns the payload for req, or resource.ErrNotFound. Payloads whose
// checksum does not match are rejected.
func (r *ResourceRepo) Fetch(ctx context.Context, req resource.Request) ([]byte, error) {
	var payload, sum []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT payload, checksum FROM resources WHERE hash = $1 AND kind = $2`,
		int64(req.Hash), int16(req.Type),
	).Scan(&payload, &sum)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %d", resource.ErrNotFound, req.Type, req.Hash)
	}
	if err != nil {
		return nil, fmt.Errorf("query resource %d: %w", req.Hash, err)
	}
	if !bytes.Equal(sum, resource.Checksum(payload)) {
		return nil, fmt.Errorf("resource %d: checksum mismatch", req.Hash)
	}
	return payload, nil
}

// SaveBatch upserts rows in one transaction.
func (r *ResourceRepo) SaveBatch(ctx context.Context, rows []ResourceRow) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("resources begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(
			`INSERT INTO resources (hash, kind, payload, checksum, size)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (hash, kind) DO UPDATE
			 SET payload = EXCLUDED.payload, checksum = EXCLUDED.checksum,
			     size = EXCLUDED.size, imported_at = now()`,
			int64(row.Hash), int16(row.Type), row.Payload, resource.Checksum(row.Payload), len(row.Payload),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("resources upsert: %w", err)
	}
	return tx.Commit(ctx)
}

// Delete removes one payload.
func (r *ResourceRepo) Delete(ctx context.Context, hash uint64, t resource.Type) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM resources WHERE hash = $1 AND kind = $2`, int64(hash), int16(t),
	)
	return err
}

// Count returns the number of stored payloads per type.
func (r *ResourceRepo) Count(ctx context.Context) (map[resource.Type]int, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT kind, count(*) FROM resources GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[resource.Type]int)
	for rows.Next() {
		var kind int16
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[resource.Type(kind)] = int(n)
	}
	return out, rows.Err()
}
