package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CacheRecord is one supercache row: the serialized record set last fetched
// from upstream for a (name, type) pair, plus when it was fetched and when a
// client last asked for it.
type CacheRecord struct {
	RecordName         string
	RecordType         string
	ContentJSON        string
	DataReceivedAtUnix int64
	LastQueryAtUnix    int64
}

// UpsertRecord stores the record set for (name, type), inserting a new row
// or overwriting all value columns of the existing one in a single atomic
// statement.
//
// Callers on the resolution path treat failures as best-effort: they log and
// drop the error so a slow or broken disk never delays a client reply.
func (db *DB) UpsertRecord(ctx context.Context, name, recordType, contentJSON string, dataReceivedAt, lastQueryAt int64) error {
	query := `
		INSERT INTO record (record_name, record_type, content_json, data_received_at_unix, last_query_at_unix)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(record_name, record_type) DO UPDATE SET
			content_json = excluded.content_json,
			data_received_at_unix = excluded.data_received_at_unix,
			last_query_at_unix = excluded.last_query_at_unix
	`

	_, err := db.conn.ExecContext(ctx, query, canonicalKey(name), recordType, contentJSON, dataReceivedAt, lastQueryAt)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s/%s: %w", name, recordType, err)
	}
	return nil
}

// TouchAndFetch looks up the row for (name, type), stamps its
// last_query_at_unix with now, and returns the previously stored content and
// fetch time. The update and read are one statement, so concurrent callers
// for the same key are safe; last writer wins on the query timestamp.
//
// Returns ok=false when no row exists.
func (db *DB) TouchAndFetch(ctx context.Context, name, recordType string, now int64) (contentJSON string, dataReceivedAt int64, ok bool, err error) {
	query := `
		UPDATE record
		SET last_query_at_unix = ?
		WHERE record_name = ? AND record_type = ?
		RETURNING content_json, data_received_at_unix
	`

	row := db.conn.QueryRowContext(ctx, query, now, canonicalKey(name), recordType)
	if err := row.Scan(&contentJSON, &dataReceivedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, false, nil
		}
		return "", 0, false, fmt.Errorf("failed to fetch record %s/%s: %w", name, recordType, err)
	}
	return contentJSON, dataReceivedAt, true, nil
}

// CountRecords returns the number of supercache rows.
func (db *DB) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM record").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// ListRecords pages through supercache rows ordered by name then type.
func (db *DB) ListRecords(ctx context.Context, limit, offset int) ([]CacheRecord, error) {
	query := `
		SELECT record_name, record_type, content_json, data_received_at_unix, last_query_at_unix
		FROM record
		ORDER BY record_name, record_type
		LIMIT ? OFFSET ?
	`

	rows, err := db.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []CacheRecord
	for rows.Next() {
		var r CacheRecord
		if err := rows.Scan(&r.RecordName, &r.RecordType, &r.ContentJSON, &r.DataReceivedAtUnix, &r.LastQueryAtUnix); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRecord removes the row for (name, type). Returns whether a row was
// deleted. This is the operator eviction path; the resolution path never
// deletes.
func (db *DB) DeleteRecord(ctx context.Context, name, recordType string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM record WHERE record_name = ? AND record_type = ?",
		canonicalKey(name), recordType,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete record %s/%s: %w", name, recordType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// canonicalKey lowercases a DNS name and ensures the trailing dot, so that
// "Example.COM" and "example.com." share one row.
func canonicalKey(name string) string {
	name = strings.ToLower(name)
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	return name
}
