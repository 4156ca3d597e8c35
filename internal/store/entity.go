package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownEntity indicates an entity name that is not registered.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrInvalidParams indicates parameters that cannot be turned into a statement.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrNotFound indicates a Find that matched no row.
	ErrNotFound = errors.New("record not found")
)

// Entity names accepted by the entity operations.
const (
	EntityProject        = "Project"
	EntityProjectHistory = "ProjectHistory"
)

// Record is a single row keyed by column name.
type Record map[string]any

// Params carries the arguments of an entity operation. It is JSON-serializable
// so a failed write can be persisted and replayed later.
type Params struct {
	// Key selects a single row by primary key (Find, Update, Destroy).
	Key any `json:"key,omitempty"`

	// Data holds column values for Create and Update.
	Data Record `json:"data,omitempty"`

	// Where holds equality filters, combined with AND.
	Where Record `json:"where,omitempty"`

	// Limit caps FindAll results. Zero means no limit.
	Limit int `json:"limit,omitempty"`
}

// entity describes how an entity maps onto a table.
type entity struct {
	table   string
	key     string
	autoKey bool
	orderBy string
	columns map[string]bool
}

var entities = map[string]entity{
	EntityProject: {
		table:   "projects",
		key:     "filename",
		orderBy: "filename ASC",
		columns: columnSet(
			"filename", "path", "title", "status", "is_waiting", "waiting_input",
			"last_modified", "total_tasks", "completed_tasks", "is_well_formulated",
			"needs_improvement", "issues", "has_potential_duplicates",
		),
	},
	EntityProjectHistory: {
		table:   "project_history",
		key:     "id",
		autoKey: true,
		orderBy: "id ASC",
		columns: columnSet(
			"id", "filename", "previous_status", "new_status", "previous_tasks",
			"new_tasks", "previous_completed", "new_completed", "timestamp",
		),
	},
}

// Entities returns the registered entity names in sorted order.
func Entities() []string {
	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func columnSet(cols ...string) map[string]bool {
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c] = true
	}
	return set
}

func lookupEntity(name string) (entity, error) {
	e, ok := entities[name]
	if !ok {
		return entity{}, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return e, nil
}

// sortedColumns returns the keys of r in sorted order after checking that
// each one is a known column of e.
func (e entity) sortedColumns(r Record) ([]string, error) {
	cols := make([]string, 0, len(r))
	for col := range r {
		if !e.columns[col] {
			return nil, fmt.Errorf("%w: unknown column %q on %s", ErrInvalidParams, col, e.table)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols, nil
}

// whereClause builds "WHERE a = ? AND b = ?" from Key and Where.
// Returns an empty clause when neither is set.
func (e entity) whereClause(p Params) (string, []any, error) {
	filters := Record{}
	for k, v := range p.Where {
		filters[k] = v
	}
	if p.Key != nil {
		filters[e.key] = p.Key
	}
	if len(filters) == 0 {
		return "", nil, nil
	}

	cols, err := e.sortedColumns(filters)
	if err != nil {
		return "", nil, err
	}

	conds := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		conds[i] = col + " = ?"
		args[i] = filters[col]
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}
