package resilience

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/projtrack/internal/store"
)

// OperationType identifies a store operation that can be dispatched and
// replayed.
type OperationType int

const (
	OpFind OperationType = iota + 1
	OpFindAll
	OpCreate
	OpUpdate
	OpDestroy
)

var operationNames = map[OperationType]string{
	OpFind:    "find",
	OpFindAll: "findAll",
	OpCreate:  "create",
	OpUpdate:  "update",
	OpDestroy: "destroy",
}

// OperationTypes returns every known operation type in declaration order.
func OperationTypes() []OperationType {
	return []OperationType{OpFind, OpFindAll, OpCreate, OpUpdate, OpDestroy}
}

// String implements fmt.Stringer.
func (t OperationType) String() string {
	if name, ok := operationNames[t]; ok {
		return name
	}
	return fmt.Sprintf("OperationType(%d)", int(t))
}

// IsWrite reports whether the operation modifies the store. Only writes are
// queued for replay.
func (t OperationType) IsWrite() bool {
	return t == OpCreate || t == OpUpdate || t == OpDestroy
}

// ParseOperationType converts a string form back into an OperationType.
func ParseOperationType(s string) (OperationType, error) {
	for t, name := range operationNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// MarshalJSON encodes the type as its string form.
func (t OperationType) MarshalJSON() ([]byte, error) {
	name, ok := operationNames[t]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOperation, int(t))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes the string form.
func (t *OperationType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseOperationType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Operation describes one call through the executor.
type Operation struct {
	Type   OperationType
	Entity string
	Params store.Params

	// Name labels the operation in logs, e.g. "update-project-status".
	Name string

	// Context carries caller-supplied diagnostic fields.
	Context map[string]any
}

// Label returns a short description for logs and errors.
func (o Operation) Label() string {
	if o.Name != "" {
		return o.Name
	}
	return o.Type.String() + " " + o.Entity
}

// Call is an arbitrary store call run under the executor's policy.
type Call func(ctx context.Context, st Store) (any, error)

type dispatchFunc func(ctx context.Context, st Store, entity string, p store.Params) (any, error)

// dispatch maps every operation type onto the store capability.
var dispatch = map[OperationType]dispatchFunc{
	OpFind: func(ctx context.Context, st Store, entity string, p store.Params) (any, error) {
		return st.Find(ctx, entity, p)
	},
	OpFindAll: func(ctx context.Context, st Store, entity string, p store.Params) (any, error) {
		return st.FindAll(ctx, entity, p)
	},
	OpCreate: func(ctx context.Context, st Store, entity string, p store.Params) (any, error) {
		return st.Create(ctx, entity, p)
	},
	OpUpdate: func(ctx context.Context, st Store, entity string, p store.Params) (any, error) {
		return st.Update(ctx, entity, p)
	},
	OpDestroy: func(ctx context.Context, st Store, entity string, p store.Params) (any, error) {
		return st.Destroy(ctx, entity, p)
	},
}

// callFor returns the table-driven call for (type, entity, params).
func callFor(t OperationType, entity string, p store.Params) (Call, error) {
	fn, ok := dispatch[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, t)
	}
	return func(ctx context.Context, st Store) (any, error) {
		return fn(ctx, st, entity, p)
	}, nil
}
