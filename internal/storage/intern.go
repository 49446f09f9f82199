package storage

import (
	"context"
	"fmt"
	"time"
)

// InternBatch maps every distinct name to its integer id, creating ids for
// names not seen before. The returned map covers exactly the distinct
// input names, and each name resolves to a single id for the lifetime of
// the database. Ids are added to the in-memory cache only after the
// transaction that created them committed.
func (s *SQLiteStorage) InternBatch(ctx context.Context, names []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(names))
	missing := make([]string, 0)
	seen := make(map[string]struct{}, len(names))

	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if id, ok := s.names.Get(name); ok {
			ids[name] = id
			s.metrics.CacheHits.Add(1)
			continue
		}
		missing = append(missing, name)
	}

	if len(missing) == 0 {
		return ids, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("intern strings", fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	created, err := s.internWithQuerier(ctx, tx, missing)
	if err != nil {
		return nil, storeErr("intern strings", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("intern strings", fmt.Errorf("commit: %w", err))
	}

	for name, id := range created {
		s.names.Add(name, id)
		ids[name] = id
	}
	return ids, nil
}

// internWithQuerier inserts the distinct names that are not yet present and
// reads back the id of every one of them. It never reads a name it did not
// first try to insert, so the result is complete whenever it returns nil.
func (s *SQLiteStorage) internWithQuerier(ctx context.Context, q querier, names []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(names))

	for start := 0; start < len(names); start += maxVariables {
		end := min(start+maxVariables, len(names))
		chunk := names[start:end]

		args := make([]interface{}, len(chunk))
		for i, n := range chunk {
			args[i] = n
		}

		insert := "INSERT INTO strings (name) VALUES " + valueGroups(len(chunk), 1) + " ON CONFLICT(name) DO NOTHING"
		err := timed(&s.metrics.StringsInsert, len(chunk), func() error {
			_, err := q.ExecContext(ctx, insert, args...)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("insert strings: %w", err)
		}

		if err := s.readIDs(ctx, q, chunk, args, ids); err != nil {
			return nil, err
		}
	}

	if len(ids) != len(names) {
		return nil, fmt.Errorf("interned %d of %d names", len(ids), len(names))
	}
	return ids, nil
}

func (s *SQLiteStorage) readIDs(ctx context.Context, q querier, chunk []string, args []interface{}, ids map[string]int64) error {
	start := time.Now()
	rows, err := q.QueryContext(ctx,
		"SELECT id, name FROM strings WHERE name IN ("+placeholders(len(chunk))+")", args...)
	if err != nil {
		return fmt.Errorf("select strings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("scan string: %w", err)
		}
		ids[name] = id
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("select strings: %w", err)
	}
	s.metrics.StringsQuery.ObserveSince(len(chunk), start)
	return nil
}

// valueGroups renders n groups of width placeholders: "(?, ?), (?, ?)"
func valueGroups(n, width int) string {
	group := "(" + placeholders(width) + ")"
	buf := make([]byte, 0, n*(len(group)+2))
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		buf = append(buf, group...)
	}
	return string(buf)
}
