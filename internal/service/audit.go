package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/google/uuid"
)

// AuditEntry is one state change on an entity. From is empty for creations.
type AuditEntry struct {
	Entity   string
	EntityID uuid.UUID
	Actor    *uuid.UUID
	Action   string
	From     string
	To       string
	Metadata []byte
}

// AuditService appends to and reads the audit trail. Entries are never updated.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Record appends entry inside the caller's transaction so it commits with the change it
// describes.
func (s *AuditService) Record(ctx context.Context, qtx repository.Querier, entry AuditEntry) error {
	params := repository.InsertAuditLogParams{
		EntityType: entry.Entity,
		EntityID:   entry.EntityID,
		ActorID:    entry.Actor,
		Action:     entry.Action,
		Metadata:   entry.Metadata,
	}
	if entry.From != "" {
		params.PrevState = &entry.From
	}
	if entry.To != "" {
		params.NextState = &entry.To
	}
	if _, err := qtx.InsertAuditLog(ctx, params); err != nil {
		return fmt.Errorf("audit %s %s %s: %w", entry.Entity, entry.EntityID, entry.Action, err)
	}
	return nil
}

// Trail returns the audit history of one entity, oldest first.
func (s *AuditService) Trail(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditLog, error) {
	rows, err := s.store.Queries().ListAuditLogByEntity(ctx, repository.ListAuditLogByEntityParams{
		EntityType: entityType,
		EntityID:   entityID,
	})
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return rows, nil
}
