package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/gateway"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/observability"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// SettlementService forwards external transfers, already parked in the clearing account,
// to the outbound gateway.
type SettlementService struct {
	store   QueryStore
	gateway gateway.Gateway
	audit   *AuditService
	opts    options
}

var (
	ErrSettlementNotFound          = errors.New("settlement not found")
	ErrSettlementNotInManualReview = errors.New("settlement is not in manual review")
	ErrInvalidManualReviewDecision = errors.New("invalid manual review decision")
	ErrInvalidSettlementTransition = errors.New("invalid settlement transition")
)

const staleSettlementRecoveryWindow = 2 * time.Minute

func NewSettlementService(store QueryStore, gw gateway.Gateway, opts ...Option) *SettlementService {
	return &SettlementService{
		store:   store,
		gateway: gw,
		audit:   NewAuditService(store),
		opts:    buildOptions(opts),
	}
}

type ResolveManualReviewDecision string

const (
	DecisionConfirmSent ResolveManualReviewDecision = "confirm_sent"
	DecisionRequeue     ResolveManualReviewDecision = "requeue"
)

type ResolveManualReviewRequest struct {
	SettlementID uuid.UUID
	Decision     ResolveManualReviewDecision
	Reason       string
	ActorID      *uuid.UUID
	GatewayRef   *string
}

// ProcessSettlements processes a batch of pending settlements. Claimed rows move to
// PROCESSING before the gateway is called outside any transaction.
func (s *SettlementService) ProcessSettlements(ctx context.Context, batchSize int32) error {
	if err := s.recoverStaleProcessingSettlements(ctx, batchSize); err != nil {
		return err
	}

	claimed, err := s.claimPendingSettlements(ctx, batchSize)
	if err != nil {
		return err
	}

	for i, settlement := range claimed {
		if err := ctx.Err(); err != nil {
			if requeueErr := s.requeueClaimedSettlements(context.Background(), claimed[i:]); requeueErr != nil {
				zap.L().Error("failed to requeue claimed settlements on context cancellation", zap.Error(requeueErr))
			}
			return err
		}

		gatewayRef, err := s.gateway.SendSettlement(ctx, settlement.Destination, settlement.Amount, settlement.Currency)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gateway.ErrUnavailable) {
				if requeueErr := s.requeueClaimedSettlements(context.Background(), claimed[i:]); requeueErr != nil {
					zap.L().Error("failed to requeue settlements after gateway interruption", zap.Error(requeueErr), zap.String("settlement_id", settlement.ID.String()))
				}
				if errors.Is(err, gateway.ErrUnavailable) {
					zap.L().Warn("settlement gateway unavailable; batch requeued", zap.Int("remaining", len(claimed)-i))
					return nil
				}
				return err
			}
			s.markSettlementManualReview(ctx, settlement, "", err.Error())
			continue
		}

		if err := s.handleSettlementSuccess(ctx, settlement, gatewayRef); err != nil {
			zap.L().Error(
				"settlement succeeded at gateway but local finalization failed; moved to manual review",
				zap.Error(err),
				zap.String("settlement_id", settlement.ID.String()),
				zap.String("gateway_ref", gatewayRef),
			)
		}
	}

	s.refreshManualReviewGauge(ctx)
	return nil
}

func (s *SettlementService) recoverStaleProcessingSettlements(ctx context.Context, batchSize int32) error {
	cutoff := s.opts.now().Add(-staleSettlementRecoveryWindow)
	var stale []models.Settlement
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		stale, err = qtx.GetStaleProcessingSettlements(ctx, repository.GetStaleProcessingSettlementsParams{
			UpdatedBefore: cutoff,
			Limit:         batchSize,
		})
		if err != nil {
			return fmt.Errorf("load stale processing settlements: %w", err)
		}
		for _, settlement := range stale {
			if err := s.setStatus(ctx, qtx, settlement, domain.SettlementStatusPending, nil, nil, "requeue_stale", nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(stale) > 0 {
		zap.L().Warn("recovered stale processing settlements", zap.Int("count", len(stale)))
	}
	return nil
}

func (s *SettlementService) requeueClaimedSettlements(ctx context.Context, settlements []models.Settlement) error {
	if len(settlements) == 0 {
		return nil
	}
	return s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		for _, settlement := range settlements {
			if err := s.setStatus(ctx, qtx, settlement, domain.SettlementStatusPending, nil, nil, "requeue_claimed", nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SettlementService) claimPendingSettlements(ctx context.Context, batchSize int32) ([]models.Settlement, error) {
	var settlements []models.Settlement
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		settlements, err = qtx.GetPendingSettlements(ctx, batchSize)
		if err != nil {
			return fmt.Errorf("failed to fetch pending settlements: %w", err)
		}
		for i, settlement := range settlements {
			if err := s.setStatus(ctx, qtx, settlement, domain.SettlementStatusProcessing, nil, nil, "processing_started", nil); err != nil {
				return err
			}
			settlements[i].Status = domain.SettlementStatusProcessing
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlements, nil
}

func (s *SettlementService) handleSettlementSuccess(ctx context.Context, settlement models.Settlement, gatewayRef string) error {
	ref := gatewayRef
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		return s.setStatus(ctx, qtx, settlement, domain.SettlementStatusCompleted, &ref, nil, "settlement_completed", nil)
	})
	if err != nil {
		s.markSettlementManualReview(ctx, settlement, gatewayRef, err.Error())
		return err
	}
	zap.L().Info("settlement completed",
		zap.String("settlement_id", settlement.ID.String()),
		zap.String("transfer_id", settlement.TransferID.String()),
		zap.String("gateway_ref", gatewayRef),
	)
	return nil
}

// markSettlementManualReview parks a settlement for an operator. The transfer stays EXECUTED
// and the funds stay in the clearing account.
func (s *SettlementService) markSettlementManualReview(ctx context.Context, settlement models.Settlement, gatewayRef, reason string) {
	var ref *string
	if gatewayRef != "" {
		ref = &gatewayRef
	}
	metadata, metaErr := marshalReasonMetadata(reason)
	if metaErr != nil {
		zap.L().Warn("marshal manual review metadata failed", zap.Error(metaErr))
	}
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		return s.setStatus(ctx, qtx, settlement, domain.SettlementStatusManualReview, ref, nil, "settlement_manual_review", metadata)
	})
	if err != nil {
		zap.L().Error("failed to mark settlement manual review", zap.Error(err), zap.String("settlement_id", settlement.ID.String()))
		return
	}
	observability.IncrementManualReviewTransition("queued")
	zap.L().Warn("settlement moved to manual review", zap.String("settlement_id", settlement.ID.String()), zap.String("reason", reason))
}

// setStatus updates the settlement row and audits the move. prev defaults to the row's
// current status.
func (s *SettlementService) setStatus(ctx context.Context, qtx repository.Querier, settlement models.Settlement, next string, gatewayRef *string, actorID *uuid.UUID, action string, metadata []byte) error {
	if !canTransition(settlementTransitions, settlement.Status, next) {
		return fmt.Errorf("%w: settlement %s cannot move from %s to %s", ErrInvalidSettlementTransition, settlement.ID, settlement.Status, next)
	}
	rows, err := qtx.UpdateSettlementStatus(ctx, repository.UpdateSettlementStatusParams{
		ID:         settlement.ID,
		Status:     next,
		GatewayRef: gatewayRef,
	})
	if err != nil {
		return fmt.Errorf("update settlement %s: %w", settlement.ID, err)
	}
	if err := requireExactlyOne(rows, "update settlement status"); err != nil {
		return err
	}
	return s.audit.Record(ctx, qtx, AuditEntry{Entity: "settlement", EntityID: settlement.ID, Actor: actorID, Action: action, From: settlement.Status, To: next, Metadata: metadata})
}

// GetSettlement retrieves a settlement by ID.
func (s *SettlementService) GetSettlement(ctx context.Context, id uuid.UUID) (*models.Settlement, error) {
	row, err := s.store.Queries().GetSettlement(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettlementNotFound
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return &row, nil
}

func (s *SettlementService) ManualReviewQueueSize(ctx context.Context) (int64, error) {
	count, err := s.store.Queries().CountSettlementsByStatus(ctx, domain.SettlementStatusManualReview)
	if err != nil {
		return 0, fmt.Errorf("count manual review settlements: %w", err)
	}
	return count, nil
}

// ListManualReview returns settlements waiting for an operator, oldest first.
func (s *SettlementService) ListManualReview(ctx context.Context, limit, offset int32) ([]models.Settlement, error) {
	limit, offset = pageBounds(limit, offset)
	rows, err := s.store.Queries().ListSettlementsByStatus(ctx, repository.ListSettlementsByStatusParams{
		Status: domain.SettlementStatusManualReview,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list manual review settlements: %w", err)
	}
	return rows, nil
}

func (s *SettlementService) refreshManualReviewGauge(ctx context.Context) {
	size, err := s.ManualReviewQueueSize(ctx)
	if err != nil {
		zap.L().Warn("manual review queue size refresh failed", zap.Error(err))
		return
	}
	observability.SetManualReviewQueueSize(size)
}

// ResolveManualReviewSettlement finalizes a settlement stuck in MANUAL_REVIEW, either by
// confirming it was sent or by putting it back in the queue.
func (s *SettlementService) ResolveManualReviewSettlement(ctx context.Context, req ResolveManualReviewRequest) (*models.Settlement, error) {
	decision := ResolveManualReviewDecision(strings.ToLower(strings.TrimSpace(string(req.Decision))))
	switch decision {
	case DecisionConfirmSent, DecisionRequeue:
	default:
		return nil, ErrInvalidManualReviewDecision
	}

	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		row, err := qtx.GetSettlement(ctx, req.SettlementID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSettlementNotFound
			}
			return fmt.Errorf("get settlement: %w", err)
		}
		if row.Status != domain.SettlementStatusManualReview {
			return ErrSettlementNotInManualReview
		}

		metadata, metaErr := marshalReasonMetadata(req.Reason)
		if metaErr != nil {
			return fmt.Errorf("marshal resolution metadata: %w", metaErr)
		}

		switch decision {
		case DecisionConfirmSent:
			ref := row.GatewayRef
			if req.GatewayRef != nil && strings.TrimSpace(*req.GatewayRef) != "" {
				val := strings.TrimSpace(*req.GatewayRef)
				ref = &val
			}
			return s.setStatus(ctx, qtx, row, domain.SettlementStatusCompleted, ref, req.ActorID, "manual_review_confirmed", metadata)
		default:
			return s.setStatus(ctx, qtx, row, domain.SettlementStatusPending, nil, req.ActorID, "manual_review_requeued", metadata)
		}
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementManualReviewTransition(string(decision))
	s.refreshManualReviewGauge(ctx)
	return s.GetSettlement(ctx, req.SettlementID)
}
