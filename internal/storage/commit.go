package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/symindex/pkg/types"
)

// symbolRowsPerInsert keeps each multi-row insert under maxVariables (4 columns per row)
const symbolRowsPerInsert = 200

// CommitPackage writes a package, its files and their symbols in one
// transaction. Either all of it becomes visible or none of it does.
//
// A descriptor whose natural key is already stored for the repository is
// reported as Existing and nothing is written. Every SymbolRow must carry a
// name id returned by InternBatch; an unknown id fails the foreign key and
// rolls the whole package back.
func (s *SQLiteStorage) CommitPackage(ctx context.Context, repoID int64, desc types.PackageDescriptor, files []FileSymbols) (*CommitResult, error) {
	if err := desc.Validate(); err != nil {
		return nil, storeErr("commit package", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("commit package", fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := s.getPackageWithQuerier(ctx, tx, repoID, desc.NaturalKey)
	switch {
	case err == nil:
		return &CommitResult{PackageID: existing.ID, Existing: true}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, storeErr("commit package", fmt.Errorf("check existing: %w", err))
	}

	result := &CommitResult{}

	err = timed(&s.metrics.PackagesInsert, 1, func() error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO packages (repo_id, name, arch, version, epoch, release)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id
		`, repoID, desc.Name, desc.Arch, desc.Version, desc.Epoch, desc.Release).Scan(&result.PackageID)
	})
	if err != nil {
		return nil, storeErr("commit package", fmt.Errorf("insert package %s: %w", desc.NaturalKey, err))
	}

	for _, file := range files {
		fileID, err := s.insertFileWithQuerier(ctx, tx, result.PackageID, file.Path)
		if err != nil {
			return nil, storeErr("commit package", fmt.Errorf("insert file %s: %w", file.Path, err))
		}
		if err := s.insertSymbolsWithQuerier(ctx, tx, fileID, file.Symbols); err != nil {
			return nil, storeErr("commit package", fmt.Errorf("insert symbols of %s: %w", file.Path, err))
		}
		result.Files++
		result.Symbols += len(file.Symbols)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit package", fmt.Errorf("commit: %w", err))
	}
	return result, nil
}

func (s *SQLiteStorage) insertFileWithQuerier(ctx context.Context, q querier, packageID int64, name string) (int64, error) {
	start := time.Now()
	res, err := q.ExecContext(ctx, `INSERT INTO files (package_id, name) VALUES (?, ?)`, packageID, name)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.metrics.FilesInsert.ObserveSince(1, start)
	return id, nil
}

// insertSymbolsWithQuerier preserves the order of rows so ids follow symbol-table order
func (s *SQLiteStorage) insertSymbolsWithQuerier(ctx context.Context, q querier, fileID int64, rows []SymbolRow) error {
	for start := 0; start < len(rows); start += symbolRowsPerInsert {
		end := min(start+symbolRowsPerInsert, len(rows))
		chunk := rows[start:end]

		args := make([]interface{}, 0, len(chunk)*4)
		for _, r := range chunk {
			args = append(args, fileID, r.NameID, int64(r.Info), int64(r.Other))
		}

		query := "INSERT INTO elf_symbols (file_id, name_id, st_info, st_other) VALUES " + valueGroups(len(chunk), 4)
		err := timed(&s.metrics.SymbolsInsert, len(chunk), func() error {
			_, err := q.ExecContext(ctx, query, args...)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
