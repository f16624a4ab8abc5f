package service

import (
	"context"
	"encoding/json"
	"time"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/pkg/apperror"
	"mccapes-reconciler/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// SettlementServiceImpl implements ports.SettlementService.
//
// The conditional wallet update is the only concurrency guard: whichever of
// the poll, webhook or manual paths flips paid=false first does the work,
// everyone else gets Settled=false.
type SettlementServiceImpl struct {
	walletRepo  ports.WalletRepository
	orderRepo   ports.OrderRepository
	productRepo ports.ProductRepository
	couponRepo  ports.CouponRepository
	transactor  ports.DBTransactor
	notifier    ports.NotificationService
	audit       ports.AuditService
	metrics     ports.Metrics
	log         zerolog.Logger
}

// NewSettlementService creates a new settlement service.
func NewSettlementService(
	walletRepo ports.WalletRepository,
	orderRepo ports.OrderRepository,
	productRepo ports.ProductRepository,
	couponRepo ports.CouponRepository,
	transactor ports.DBTransactor,
	notifier ports.NotificationService,
	audit ports.AuditService,
	metrics ports.Metrics,
	log zerolog.Logger,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		walletRepo:  walletRepo,
		orderRepo:   orderRepo,
		productRepo: productRepo,
		couponRepo:  couponRepo,
		transactor:  transactor,
		notifier:    notifier,
		audit:       audit,
		metrics:     metrics,
		log:         logger.Component(log, "settlement"),
	}
}

// Settle marks the wallet paid and, if its order is still PENDING, moves the
// order to PAID, hands out product codes and bumps the coupon, all in one
// transaction. The completion email and audit entries follow the commit.
func (s *SettlementServiceImpl) Settle(ctx context.Context, req domain.SettlementRequest) (*domain.SettlementResult, error) {
	confirmations := max(1, req.Confirmations)

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		s.metrics.ObserveSettlement(req.Source, "error")
		return nil, apperror.ErrDatabaseError(err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.MarkPaid(ctx, dbTx, req.WalletID, req.TxHash, confirmations)
	if err != nil {
		s.metrics.ObserveSettlement(req.Source, "error")
		return nil, apperror.ErrDatabaseError(err)
	}
	if wallet == nil {
		s.metrics.ObserveSettlement(req.Source, "already_settled")
		s.log.Debug().
			Str("wallet_id", req.WalletID.String()).
			Str("source", string(req.Source)).
			Msg("Wallet already settled or unknown")
		return &domain.SettlementResult{}, nil
	}

	log := s.log.With().
		Str("wallet_id", wallet.ID.String()).
		Str("order_id", wallet.OrderID.String()).
		Str("chain", string(wallet.Chain)).
		Str("source", string(req.Source)).
		Logger()

	result := &domain.SettlementResult{Settled: true, OrderID: wallet.OrderID}

	order, err := s.orderRepo.GetByIDForUpdate(ctx, dbTx, wallet.OrderID)
	if err != nil {
		s.metrics.ObserveSettlement(req.Source, "error")
		return nil, apperror.ErrDatabaseError(err)
	}

	transitioned := false
	if order == nil {
		log.Error().Msg("Order missing for settled wallet")
	} else if order.Status == domain.OrderStatusPending {
		transitioned, err = s.orderRepo.TransitionStatus(ctx, dbTx, order.ID, domain.OrderStatusPending, domain.OrderStatusPaid)
		if err != nil {
			s.metrics.ObserveSettlement(req.Source, "error")
			return nil, apperror.ErrDatabaseError(err)
		}
		if transitioned {
			result.Shortfalls, err = s.fulfil(ctx, dbTx, order.ID)
			if err != nil {
				s.metrics.ObserveSettlement(req.Source, "error")
				return nil, apperror.ErrDatabaseError(err)
			}
			if order.CouponID != nil {
				if err := s.couponRepo.IncrementUsage(ctx, dbTx, *order.CouponID); err != nil {
					s.metrics.ObserveSettlement(req.Source, "error")
					return nil, apperror.ErrDatabaseError(err)
				}
			}
		}
	} else {
		log.Info().Str("order_status", string(order.Status)).Msg("Order no longer pending, wallet marked paid only")
	}

	if err := dbTx.Commit(ctx); err != nil {
		log.Error().Err(err).Msg("Settlement commit failed")
		s.metrics.ObserveSettlement(req.Source, "error")
		return nil, apperror.ErrDatabaseError(err)
	}

	result.SendEmail = transitioned
	s.metrics.ObserveSettlement(req.Source, "settled")
	log.Info().
		Bool("order_paid", transitioned).
		Int("shortfalls", len(result.Shortfalls)).
		Msg("Wallet settled")

	if transitioned {
		s.afterCommit(ctx, log, req, wallet, result)
	}
	return result, nil
}

// fulfil takes codes FIFO from each product. An item whose product cannot
// cover its quantity is left without codes and reported as a shortfall.
func (s *SettlementServiceImpl) fulfil(ctx context.Context, dbTx pgx.Tx, orderID uuid.UUID) ([]domain.StockShortfall, error) {
	items, err := s.orderRepo.ListItems(ctx, dbTx, orderID)
	if err != nil {
		return nil, err
	}

	var shortfalls []domain.StockShortfall
	for _, item := range items {
		if item.Quantity <= 0 || len(item.Codes) > 0 {
			continue
		}

		product, err := s.productRepo.GetForUpdate(ctx, dbTx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			shortfalls = append(shortfalls, domain.StockShortfall{
				OrderItemID: item.ID, ProductID: item.ProductID, Requested: item.Quantity,
			})
			continue
		}

		codes, ok := product.TakeCodes(item.Quantity)
		if !ok {
			shortfalls = append(shortfalls, domain.StockShortfall{
				OrderItemID: item.ID,
				ProductID:   item.ProductID,
				Requested:   item.Quantity,
				Available:   len(product.Stock),
			})
			continue
		}

		if err := s.productRepo.UpdateStock(ctx, dbTx, product.ID, product.Stock); err != nil {
			return nil, err
		}
		if err := s.orderRepo.SetItemCodes(ctx, dbTx, item.ID, codes); err != nil {
			return nil, err
		}
	}
	return shortfalls, nil
}

func (s *SettlementServiceImpl) afterCommit(ctx context.Context, log zerolog.Logger, req domain.SettlementRequest, wallet *domain.Wallet, result *domain.SettlementResult) {
	if err := s.notifier.SendOrderConfirmation(ctx, result.OrderID); err != nil {
		log.Warn().Err(err).Msg("Order confirmation email not dispatched")
	}

	details, _ := json.Marshal(map[string]any{
		"order_id":      result.OrderID,
		"chain":         wallet.Chain,
		"tx_hash":       wallet.TxHash,
		"confirmations": wallet.Confirmations,
		"source":        req.Source,
	})
	now := time.Now().UTC()
	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionSettlement,
		ResourceType: "wallet",
		ResourceID:   wallet.ID.String(),
		Actor:        actorFor(req.Source),
		Details:      string(details),
		CreatedAt:    now,
	})

	for _, sf := range result.Shortfalls {
		log.Warn().
			Str("order_item_id", sf.OrderItemID.String()).
			Str("product_id", sf.ProductID.String()).
			Int("requested", sf.Requested).
			Int("available", sf.Available).
			Msg("Insufficient stock, item left unfulfilled")

		sfDetails, _ := json.Marshal(sf)
		s.audit.Log(ctx, &domain.AuditLog{
			ID:           uuid.New(),
			Action:       domain.AuditActionStockShortfall,
			ResourceType: "order",
			ResourceID:   result.OrderID.String(),
			Actor:        actorFor(req.Source),
			Details:      string(sfDetails),
			CreatedAt:    now,
		})
	}
}

func actorFor(source domain.SettlementSource) string {
	switch source {
	case domain.SettlementSourceWebhook:
		return "webhook"
	case domain.SettlementSourceManual:
		return "operator"
	}
	return "poll"
}
