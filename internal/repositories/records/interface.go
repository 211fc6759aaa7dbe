package records

import "context"

// Row is one stored entity document.
type Row struct {
	Store     string
	ID        string
	UserID    string
	Data      []byte
	UpdatedAt int64
}

// Filter selects rows of one store whose JSON field equals Value.
type Filter struct {
	Store string
	Field string
	Value string

	// ExcludeID skips the row with this id, for uniqueness checks.
	ExcludeID string
	Limit     int
	Reverse   bool
}

type Repository interface {
	Upsert(ctx context.Context, row Row) error
	Get(ctx context.Context, store, id string) (*Row, error)
	Delete(ctx context.Context, store, id string) error
	Find(ctx context.Context, f Filter) ([]Row, error)
	ListByStore(ctx context.Context, store string) ([]Row, error)
	ListAll(ctx context.Context) ([]Row, error)
	DeleteByUser(ctx context.Context, store, userID string) (int64, error)
}
