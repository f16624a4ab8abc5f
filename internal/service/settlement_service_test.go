package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"mccapes-reconciler/internal/adapter/metrics"
	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports/mocks"
	"mccapes-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type settlementMocks struct {
	walletRepo  *mocks.MockWalletRepository
	orderRepo   *mocks.MockOrderRepository
	productRepo *mocks.MockProductRepository
	couponRepo  *mocks.MockCouponRepository
	transactor  *mocks.MockDBTransactor
	notifier    *mocks.MockNotificationService
	audit       *mocks.MockAuditService
}

func newMockedSettlement(ctrl *gomock.Controller) (*SettlementServiceImpl, *settlementMocks) {
	m := &settlementMocks{
		walletRepo:  mocks.NewMockWalletRepository(ctrl),
		orderRepo:   mocks.NewMockOrderRepository(ctrl),
		productRepo: mocks.NewMockProductRepository(ctrl),
		couponRepo:  mocks.NewMockCouponRepository(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
		notifier:    mocks.NewMockNotificationService(ctrl),
		audit:       mocks.NewMockAuditService(ctrl),
	}
	svc := NewSettlementService(m.walletRepo, m.orderRepo, m.productRepo, m.couponRepo, m.transactor,
		m.notifier, m.audit, metrics.Nop{}, newTestLogger())
	return svc, m
}

// newStoreSettlement wires the service to an in-memory store.
func newStoreSettlement(ctrl *gomock.Controller, store *memStore) (*SettlementServiceImpl, *mocks.MockNotificationService, *mocks.MockAuditService) {
	notifier := mocks.NewMockNotificationService(ctrl)
	audit := mocks.NewMockAuditService(ctrl)
	svc := NewSettlementService(store, store, store, store, store, notifier, audit, metrics.Nop{}, newTestLogger())
	return svc, notifier, audit
}

func ptr[T any](v T) *T { return &v }

// ==================== Mocked Settlement Tests ====================

func TestSettle_AlreadyPaidIsNoOp(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, m := newMockedSettlement(ctrl)
	tx := &mockTx{}
	walletID := uuid.New()

	m.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	m.walletRepo.EXPECT().MarkPaid(gomock.Any(), tx, walletID, (*string)(nil), 1).Return(nil, nil)

	result, err := svc.Settle(context.Background(), domain.SettlementRequest{
		WalletID: walletID,
		Source:   domain.SettlementSourceWebhook,
	})
	require.NoError(t, err)
	assert.False(t, result.Settled)
	assert.False(t, result.SendEmail)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestSettle_ConfirmationsDefaultToOne(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, m := newMockedSettlement(ctrl)
	tx := &mockTx{}

	m.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	m.walletRepo.EXPECT().MarkPaid(gomock.Any(), tx, gomock.Any(), gomock.Any(), 1).Return(nil, nil)

	_, err := svc.Settle(context.Background(), domain.SettlementRequest{WalletID: uuid.New(), Confirmations: -3})
	require.NoError(t, err)
}

func TestSettle_MissingOrderCommitsWalletOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, m := newMockedSettlement(ctrl)
	tx := &mockTx{}
	wallet := &domain.Wallet{ID: uuid.New(), OrderID: uuid.New(), Chain: domain.ChainLitecoin, Paid: true}

	m.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	m.walletRepo.EXPECT().MarkPaid(gomock.Any(), tx, wallet.ID, gomock.Any(), 3).Return(wallet, nil)
	m.orderRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, wallet.OrderID).Return(nil, nil)

	result, err := svc.Settle(context.Background(), domain.SettlementRequest{
		WalletID:      wallet.ID,
		TxHash:        ptr("abc"),
		Confirmations: 3,
		Source:        domain.SettlementSourcePoll,
	})
	require.NoError(t, err)
	assert.True(t, result.Settled)
	assert.False(t, result.SendEmail)
	assert.Equal(t, wallet.OrderID, result.OrderID)
	assert.True(t, tx.committed)
}

func TestSettle_OrderNotPendingSkipsFulfilment(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, m := newMockedSettlement(ctrl)
	tx := &mockTx{}
	wallet := &domain.Wallet{ID: uuid.New(), OrderID: uuid.New(), Chain: domain.ChainEthereum}

	m.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	m.walletRepo.EXPECT().MarkPaid(gomock.Any(), tx, wallet.ID, gomock.Any(), gomock.Any()).Return(wallet, nil)
	m.orderRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, wallet.OrderID).
		Return(&domain.Order{ID: wallet.OrderID, Status: domain.OrderStatusCancelled}, nil)

	result, err := svc.Settle(context.Background(), domain.SettlementRequest{WalletID: wallet.ID})
	require.NoError(t, err)
	assert.True(t, result.Settled)
	assert.False(t, result.SendEmail)
	assert.True(t, tx.committed)
}

func TestSettle_BeginFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, m := newMockedSettlement(ctrl)
	m.transactor.EXPECT().Begin(gomock.Any()).Return(nil, errors.New("pool exhausted"))

	_, err := svc.Settle(context.Background(), domain.SettlementRequest{WalletID: uuid.New()})
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SYS_001", appErr.Code)
}

func TestSettle_ItemWriteFailureRollsBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, m := newMockedSettlement(ctrl)
	tx := &mockTx{}
	wallet := &domain.Wallet{ID: uuid.New(), OrderID: uuid.New(), Chain: domain.ChainBitcoin}
	productID := uuid.New()

	m.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	m.walletRepo.EXPECT().MarkPaid(gomock.Any(), tx, wallet.ID, gomock.Any(), gomock.Any()).Return(wallet, nil)
	m.orderRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, wallet.OrderID).
		Return(&domain.Order{ID: wallet.OrderID, Status: domain.OrderStatusPending}, nil)
	m.orderRepo.EXPECT().TransitionStatus(gomock.Any(), tx, wallet.OrderID, domain.OrderStatusPending, domain.OrderStatusPaid).
		Return(true, nil)
	m.orderRepo.EXPECT().ListItems(gomock.Any(), tx, wallet.OrderID).
		Return([]domain.OrderItem{{ID: uuid.New(), ProductID: productID, Quantity: 1}}, nil)
	m.productRepo.EXPECT().GetForUpdate(gomock.Any(), tx, productID).
		Return(&domain.Product{ID: productID, Stock: []string{"A"}}, nil)
	m.productRepo.EXPECT().UpdateStock(gomock.Any(), tx, productID, gomock.Len(0)).Return(errors.New("deadlock"))

	_, err := svc.Settle(context.Background(), domain.SettlementRequest{WalletID: wallet.ID})
	require.Error(t, err)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestSettle_NotificationFailureDoesNotFailSettlement(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newMemStore()
	f := store.seedOrder(1, []string{"CODE-1"})
	svc, notifier, audit := newStoreSettlement(ctrl, store)

	notifier.EXPECT().SendOrderConfirmation(gomock.Any(), f.orderID).Return(errors.New("order view missing"))
	audit.EXPECT().Log(gomock.Any(), gomock.Any()).Times(1)

	result, err := svc.Settle(context.Background(), domain.SettlementRequest{WalletID: f.walletID, TxHash: ptr("h")})
	require.NoError(t, err)
	assert.True(t, result.Settled)
	assert.True(t, result.SendEmail)
	assert.Equal(t, domain.OrderStatusPaid, store.orders[f.orderID].Status)
}

// ==================== Fulfilment Tests ====================

func TestSettle_TakesCodesFIFO(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newMemStore()
	f := store.seedOrder(2, []string{"A", "B", "C", "D"})
	svc, notifier, audit := newStoreSettlement(ctrl, store)

	notifier.EXPECT().SendOrderConfirmation(gomock.Any(), f.orderID).Return(nil)
	audit.EXPECT().Log(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, entry *domain.AuditLog) {
			assert.Equal(t, domain.AuditActionSettlement, entry.Action)
			assert.Equal(t, "poll", entry.Actor)
		},
	)

	result, err := svc.Settle(context.Background(), domain.SettlementRequest{
		WalletID:      f.walletID,
		TxHash:        ptr("txhash"),
		Confirmations: 2,
		Source:        domain.SettlementSourcePoll,
	})
	require.NoError(t, err)

	assert.True(t, result.Settled)
	assert.True(t, result.SendEmail)
	assert.Empty(t, result.Shortfalls)
	assert.Equal(t, []string{"A", "B"}, store.items[f.itemID].Codes)
	assert.Equal(t, []string{"C", "D"}, store.products[f.productID].Stock)
	assert.Equal(t, domain.OrderStatusPaid, store.orders[f.orderID].Status)
	assert.Equal(t, 1, store.coupons[f.couponID])

	w := store.wallets[f.walletID]
	assert.True(t, w.Paid)
	assert.Equal(t, "txhash", *w.TxHash)
	assert.Equal(t, 2, w.Confirmations)
}

func TestSettle_InsufficientStockIsNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newMemStore()
	f := store.seedOrder(2, []string{"ONLY"})
	svc, notifier, audit := newStoreSettlement(ctrl, store)

	notifier.EXPECT().SendOrderConfirmation(gomock.Any(), f.orderID).Return(nil)
	var actions []domain.AuditAction
	audit.EXPECT().Log(gomock.Any(), gomock.Any()).Times(2).Do(
		func(_ context.Context, entry *domain.AuditLog) { actions = append(actions, entry.Action) },
	)

	result, err := svc.Settle(context.Background(), domain.SettlementRequest{WalletID: f.walletID})
	require.NoError(t, err)

	assert.True(t, result.Settled)
	require.Len(t, result.Shortfalls, 1)
	assert.Equal(t, f.itemID, result.Shortfalls[0].OrderItemID)
	assert.Equal(t, 2, result.Shortfalls[0].Requested)
	assert.Equal(t, 1, result.Shortfalls[0].Available)

	assert.Empty(t, store.items[f.itemID].Codes)
	assert.Equal(t, []string{"ONLY"}, store.products[f.productID].Stock)
	assert.Equal(t, domain.OrderStatusPaid, store.orders[f.orderID].Status)
	assert.Equal(t, []domain.AuditAction{domain.AuditActionSettlement, domain.AuditActionStockShortfall}, actions)
}

func TestSettle_MissingProductIsShortfall(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newMemStore()
	f := store.seedOrder(1, []string{"X"})
	delete(store.products, f.productID)
	svc, notifier, audit := newStoreSettlement(ctrl, store)

	notifier.EXPECT().SendOrderConfirmation(gomock.Any(), f.orderID).Return(nil)
	audit.EXPECT().Log(gomock.Any(), gomock.Any()).Times(2)

	result, err := svc.Settle(context.Background(), domain.SettlementRequest{WalletID: f.walletID})
	require.NoError(t, err)
	require.Len(t, result.Shortfalls, 1)
	assert.Equal(t, 0, result.Shortfalls[0].Available)
}

// ==================== Idempotency Tests ====================

func TestSettle_SequentialRetryIsNoOp(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newMemStore()
	f := store.seedOrder(1, []string{"A", "B"})
	svc, notifier, audit := newStoreSettlement(ctrl, store)

	notifier.EXPECT().SendOrderConfirmation(gomock.Any(), f.orderID).Return(nil).Times(1)
	audit.EXPECT().Log(gomock.Any(), gomock.Any()).Times(1)

	first, err := svc.Settle(context.Background(), domain.SettlementRequest{WalletID: f.walletID, Source: domain.SettlementSourcePoll})
	require.NoError(t, err)
	second, err := svc.Settle(context.Background(), domain.SettlementRequest{WalletID: f.walletID, Source: domain.SettlementSourceWebhook})
	require.NoError(t, err)

	assert.True(t, first.Settled)
	assert.False(t, second.Settled)
	assert.False(t, second.SendEmail)
	assert.Equal(t, []string{"A"}, store.items[f.itemID].Codes)
	assert.Equal(t, []string{"B"}, store.products[f.productID].Stock)
	assert.Equal(t, 1, store.coupons[f.couponID])
}

func TestSettle_ConcurrentCallersSettleOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newMemStore()
	f := store.seedOrder(3, []string{"A", "B", "C", "D", "E"})
	svc, notifier, audit := newStoreSettlement(ctrl, store)

	notifier.EXPECT().SendOrderConfirmation(gomock.Any(), f.orderID).Return(nil).Times(1)
	audit.EXPECT().Log(gomock.Any(), gomock.Any()).Times(1)

	const callers = 16
	results := make([]*domain.SettlementResult, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source := domain.SettlementSourcePoll
			if i%2 == 1 {
				source = domain.SettlementSourceWebhook
			}
			res, err := svc.Settle(context.Background(), domain.SettlementRequest{
				WalletID: f.walletID, TxHash: ptr("race"), Source: source,
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	settled, emails := 0, 0
	for _, r := range results {
		require.NotNil(t, r)
		if r.Settled {
			settled++
		}
		if r.SendEmail {
			emails++
		}
	}
	assert.Equal(t, 1, settled)
	assert.Equal(t, 1, emails)
	assert.Equal(t, []string{"A", "B", "C"}, store.items[f.itemID].Codes)
	assert.Equal(t, []string{"D", "E"}, store.products[f.productID].Stock)
	assert.Equal(t, 1, store.coupons[f.couponID])
}
