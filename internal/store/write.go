package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create inserts a row and returns it.
//
// For entities with a natural key (Project) the insert is an upsert:
// ON CONFLICT(key) DO UPDATE overwrites the supplied columns. This keeps a
// replayed create idempotent when the first attempt was applied before the
// failure was observed.
//
// For auto-key entities (ProjectHistory) the generated id is added to the
// returned record.
func (s *Store) Create(ctx context.Context, entityName string, p Params) (Record, error) {
	return create(ctx, s.db, entityName, p)
}

func create(ctx context.Context, db execer, entityName string, p Params) (Record, error) {
	e, err := lookupEntity(entityName)
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	if len(p.Data) == 0 {
		return nil, fmt.Errorf("create %s: %w: data required", entityName, ErrInvalidParams)
	}
	if !e.autoKey {
		if _, ok := p.Data[e.key]; !ok {
			return nil, fmt.Errorf("create %s: %w: %s required", entityName, ErrInvalidParams, e.key)
		}
	}

	cols, err := e.sortedColumns(p.Data)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", entityName, err)
	}

	args := make([]any, len(cols))
	marks := make([]string, len(cols))
	var updates []string
	for i, col := range cols {
		args[i] = p.Data[col]
		marks[i] = "?"
		if col != e.key {
			updates = append(updates, col+" = excluded."+col)
		}
	}

	query := "INSERT INTO " + e.table + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
	if !e.autoKey {
		if len(updates) == 0 {
			query += " ON CONFLICT(" + e.key + ") DO NOTHING"
		} else {
			query += " ON CONFLICT(" + e.key + ") DO UPDATE SET " + strings.Join(updates, ", ")
		}
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", entityName, err)
	}

	rec := make(Record, len(p.Data)+1)
	for k, v := range p.Data {
		rec[k] = v
	}
	if e.autoKey {
		if _, ok := rec[e.key]; !ok {
			id, err := result.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("create %s: last insert id: %w", entityName, err)
			}
			rec[e.key] = id
		}
	}
	return rec, nil
}

// Update sets Data columns on rows matching Key and Where.
// Returns the number of rows affected. A filter is required.
func (s *Store) Update(ctx context.Context, entityName string, p Params) (int64, error) {
	return update(ctx, s.db, entityName, p)
}

func update(ctx context.Context, db execer, entityName string, p Params) (int64, error) {
	e, err := lookupEntity(entityName)
	if err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}
	if len(p.Data) == 0 {
		return 0, fmt.Errorf("update %s: %w: data required", entityName, ErrInvalidParams)
	}

	cols, err := e.sortedColumns(p.Data)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", entityName, err)
	}
	where, whereArgs, err := e.whereClause(p)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", entityName, err)
	}
	if where == "" {
		return 0, fmt.Errorf("update %s: %w: key or where required", entityName, ErrInvalidParams)
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(whereArgs))
	for i, col := range cols {
		sets[i] = col + " = ?"
		args = append(args, p.Data[col])
	}
	args = append(args, whereArgs...)

	result, err := db.ExecContext(ctx, "UPDATE "+e.table+" SET "+strings.Join(sets, ", ")+where, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", entityName, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update %s: rows affected: %w", entityName, err)
	}
	return n, nil
}

// Destroy deletes rows matching Key and Where.
// Returns the number of rows deleted. A filter is required.
func (s *Store) Destroy(ctx context.Context, entityName string, p Params) (int64, error) {
	return destroy(ctx, s.db, entityName, p)
}

func destroy(ctx context.Context, db execer, entityName string, p Params) (int64, error) {
	e, err := lookupEntity(entityName)
	if err != nil {
		return 0, fmt.Errorf("destroy: %w", err)
	}

	where, args, err := e.whereClause(p)
	if err != nil {
		return 0, fmt.Errorf("destroy %s: %w", entityName, err)
	}
	if where == "" {
		return 0, fmt.Errorf("destroy %s: %w: key or where required", entityName, ErrInvalidParams)
	}

	result, err := db.ExecContext(ctx, "DELETE FROM "+e.table+where, args...)
	if err != nil {
		return 0, fmt.Errorf("destroy %s: %w", entityName, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("destroy %s: rows affected: %w", entityName, err)
	}
	return n, nil
}

// Tx applies entity writes inside one transaction.
type Tx struct {
	tx *sql.Tx
}

// Create is Store.Create inside the transaction.
func (t *Tx) Create(ctx context.Context, entityName string, p Params) (Record, error) {
	return create(ctx, t.tx, entityName, p)
}

// Update is Store.Update inside the transaction.
func (t *Tx) Update(ctx context.Context, entityName string, p Params) (int64, error) {
	return update(ctx, t.tx, entityName, p)
}

// Destroy is Store.Destroy inside the transaction.
func (t *Tx) Destroy(ctx context.Context, entityName string, p Params) (int64, error) {
	return destroy(ctx, t.tx, entityName, p)
}

// Atomically runs fn with entity writes in a single transaction. Either
// every write fn made is committed or none is.
func (s *Store) Atomically(ctx context.Context, fn func(tx *Tx) error) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		return fn(&Tx{tx: tx})
	})
}
