package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Find returns the first row of an entity matching Key and Where.
// Returns ErrNotFound if nothing matches.
//
// At least one of Key or Where must be set; an unfiltered Find is rejected
// so callers never pick an arbitrary row by accident.
func (s *Store) Find(ctx context.Context, entityName string, p Params) (Record, error) {
	e, err := lookupEntity(entityName)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}

	where, args, err := e.whereClause(p)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", entityName, err)
	}
	if where == "" {
		return nil, fmt.Errorf("find %s: %w: key or where required", entityName, ErrInvalidParams)
	}

	query := "SELECT * FROM " + e.table + where + " ORDER BY " + e.orderBy + " LIMIT 1"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", entityName, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", entityName, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("find %s: %w", entityName, ErrNotFound)
	}
	return records[0], nil
}

// FindAll returns every row of an entity matching Where, in the entity's
// fixed order. Returns an empty slice (not nil) if nothing matches.
func (s *Store) FindAll(ctx context.Context, entityName string, p Params) ([]Record, error) {
	e, err := lookupEntity(entityName)
	if err != nil {
		return nil, fmt.Errorf("find all: %w", err)
	}

	where, args, err := e.whereClause(p)
	if err != nil {
		return nil, fmt.Errorf("find all %s: %w", entityName, err)
	}

	query := "SELECT * FROM " + e.table + where + " ORDER BY " + e.orderBy
	if p.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", p.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find all %s: %w", entityName, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("find all %s: %w", entityName, err)
	}
	return records, nil
}

// scanRecords reads all rows into Records. TEXT columns come back as string.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	records := []Record{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		rec := make(Record, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
				continue
			}
			rec[col] = values[i]
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return records, nil
}
