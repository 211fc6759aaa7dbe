package integrity

import (
	"context"
	"time"
)

type Repository interface {
	// Get returns "" when no hash was stored yet.
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, hash string, at time.Time) error
}
