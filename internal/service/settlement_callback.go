package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/observability"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	ErrInvalidSignature        = errors.New("invalid signature")
	ErrInvalidCallback         = errors.New("invalid settlement callback")
	ErrCallbackPayloadMismatch = errors.New("callback does not match the settlement outcome on record")
)

const (
	CallbackStatusCompleted = "completed"
	CallbackStatusFailed    = "failed"
)

// SettlementCallbackService applies asynchronous outcomes reported by the settlement gateway.
type SettlementCallbackService struct {
	settlements *SettlementService
	hmacKey     []byte
	skipSig     bool
}

func NewSettlementCallbackService(settlements *SettlementService, hmacKey string, skipSignature bool) *SettlementCallbackService {
	return &SettlementCallbackService{
		settlements: settlements,
		hmacKey:     []byte(hmacKey),
		skipSig:     skipSignature,
	}
}

// SettlementCallbackPayload is the body the gateway posts once a settlement is final.
type SettlementCallbackPayload struct {
	SettlementID string `json:"settlement_id"`
	GatewayRef   string `json:"gateway_ref"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

type SettlementCallbackResponse struct {
	SettlementID uuid.UUID `json:"settlement_id"`
	Status       string    `json:"status"`
	Message      string    `json:"message"`
}

// HandleSettlementCallback verifies the HMAC signature and moves the settlement to
// COMPLETED or MANUAL_REVIEW. Replays of an applied outcome are acknowledged.
func (s *SettlementCallbackService) HandleSettlementCallback(ctx context.Context, payload []byte, signature string) (*SettlementCallbackResponse, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var cb SettlementCallbackPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	cb.Status = strings.ToLower(strings.TrimSpace(cb.Status))
	cb.GatewayRef = strings.TrimSpace(cb.GatewayRef)

	settlementID, err := uuid.Parse(strings.TrimSpace(cb.SettlementID))
	if err != nil {
		return nil, fmt.Errorf("%w: settlement_id: %v", ErrInvalidCallback, err)
	}
	switch cb.Status {
	case CallbackStatusCompleted:
		if cb.GatewayRef == "" {
			return nil, fmt.Errorf("%w: gateway_ref is required for completed settlements", ErrInvalidCallback)
		}
	case CallbackStatusFailed:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidCallback, cb.Status)
	}

	resp := &SettlementCallbackResponse{SettlementID: settlementID}
	err = s.settlements.store.RunInTx(ctx, func(qtx repository.Querier) error {
		row, err := qtx.GetSettlement(ctx, settlementID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSettlementNotFound
			}
			return fmt.Errorf("get settlement: %w", err)
		}

		switch {
		case row.Status == domain.SettlementStatusCompleted:
			if cb.Status == CallbackStatusCompleted && row.GatewayRef != nil && *row.GatewayRef == cb.GatewayRef {
				resp.Status = row.Status
				resp.Message = "Settlement already completed"
				return nil
			}
			return ErrCallbackPayloadMismatch
		case row.Status == domain.SettlementStatusManualReview && cb.Status == CallbackStatusFailed:
			resp.Status = row.Status
			resp.Message = "Settlement already in manual review"
			return nil
		}

		metadata, err := marshalReasonMetadata(cb.Reason)
		if err != nil {
			return fmt.Errorf("marshal callback metadata: %w", err)
		}
		if cb.Status == CallbackStatusCompleted {
			ref := cb.GatewayRef
			resp.Status = domain.SettlementStatusCompleted
			resp.Message = "Settlement completed"
			return s.settlements.setStatus(ctx, qtx, row, domain.SettlementStatusCompleted, &ref, nil, "gateway_callback_completed", metadata)
		}
		resp.Status = domain.SettlementStatusManualReview
		resp.Message = "Settlement moved to manual review"
		return s.settlements.setStatus(ctx, qtx, row, domain.SettlementStatusManualReview, row.GatewayRef, nil, "gateway_callback_failed", metadata)
	})
	if err != nil {
		return nil, err
	}

	if resp.Status == domain.SettlementStatusManualReview {
		observability.IncrementManualReviewTransition("queued")
		s.settlements.refreshManualReviewGauge(ctx)
	}
	zap.L().Info("settlement callback applied",
		zap.String("settlement_id", settlementID.String()),
		zap.String("status", resp.Status),
		zap.String("gateway_ref", cb.GatewayRef),
	)
	return resp, nil
}

// verifyHMAC checks signature against "sha256=" + hex(HMAC-SHA256(key, payload)).
func (s *SettlementCallbackService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}
	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expectedSig))
}

// SignSettlementCallback returns the signature header value for payload.
func SignSettlementCallback(key string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
