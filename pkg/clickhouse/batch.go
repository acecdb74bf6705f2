package clickhouse

import (
	"context"
	"fmt"
)

// InsertBatch sends rows in chunks, one transaction per chunk. clickhouse-go
// turns each committed transaction into a single native block, so a failed
// chunk leaves earlier chunks written; artifact tables are ReplacingMergeTree
// and a rerun overwrites them.
func (c *Client) InsertBatch(ctx context.Context, query string, rows [][]any) error {
	chunk := c.chunk
	if chunk <= 0 {
		chunk = len(rows)
	}
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		if err := c.insertChunk(ctx, query, rows[start:end]); err != nil {
			return fmt.Errorf("rows %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (c *Client) insertChunk(ctx context.Context, query string, rows [][]any) (err error) {
	if c.writeTO > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTO)
		defer cancel()
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		if _, err = stmt.ExecContext(ctx, r...); err != nil {
			return fmt.Errorf("append row %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
