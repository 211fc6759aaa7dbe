package audit

import (
	"context"

	"github.com/dmitrijs2005/mindvault/internal/models"
)

type Repository interface {
	Append(ctx context.Context, e models.AuditLogEntry) error
	// List returns entries in append order.
	List(ctx context.Context) ([]models.AuditLogEntry, error)
}
