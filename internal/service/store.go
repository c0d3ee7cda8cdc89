package service

import (
	"context"

	"github.com/ayo6706/transfer-core/internal/repository"
)

// QueryStore defines the minimal data access contract required by services.
// A Querier handed to a RunInTx callback is the only one that may be used inside it.
type QueryStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}
