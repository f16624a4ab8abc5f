package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"mccapes-reconciler/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// memStore is an in-memory stand-in for the wallet, order, product and coupon
// tables. Begin takes a store-wide lock held until Commit or Rollback, which
// serialises transactions the way row locks do for a single wallet.
type memStore struct {
	txLock sync.Mutex
	mu     sync.Mutex

	wallets  map[uuid.UUID]domain.Wallet
	orders   map[uuid.UUID]domain.Order
	items    map[uuid.UUID]domain.OrderItem
	products map[uuid.UUID]domain.Product
	coupons  map[uuid.UUID]int

	// checked holds the poll sequence number MarkChecked last gave a wallet.
	checked   map[uuid.UUID]int
	checkTick int

	snapshot *memSnapshot
}

type memSnapshot struct {
	wallets  map[uuid.UUID]domain.Wallet
	orders   map[uuid.UUID]domain.Order
	items    map[uuid.UUID]domain.OrderItem
	products map[uuid.UUID]domain.Product
	coupons  map[uuid.UUID]int
}

func newMemStore() *memStore {
	return &memStore{
		wallets:  map[uuid.UUID]domain.Wallet{},
		orders:   map[uuid.UUID]domain.Order{},
		items:    map[uuid.UUID]domain.OrderItem{},
		products: map[uuid.UUID]domain.Product{},
		coupons:  map[uuid.UUID]int{},
		checked:  map[uuid.UUID]int{},
	}
}

type memTx struct {
	pgx.Tx
	store *memStore
	done  bool
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Lock()
	t.store.snapshot = nil
	t.store.mu.Unlock()
	t.store.txLock.Unlock()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	if snap := t.store.snapshot; snap != nil {
		t.store.wallets, t.store.orders, t.store.items = snap.wallets, snap.orders, snap.items
		t.store.products, t.store.coupons = snap.products, snap.coupons
		t.store.snapshot = nil
	}
	t.store.mu.Unlock()
	t.store.txLock.Unlock()
	return nil
}

func (s *memStore) Begin(context.Context) (pgx.Tx, error) {
	s.txLock.Lock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = &memSnapshot{
		wallets:  cloneMap(s.wallets),
		orders:   cloneMap(s.orders),
		items:    cloneMap(s.items),
		products: cloneMap(s.products),
		coupons:  cloneMap(s.coupons),
	}
	return &memTx{store: s}, nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// --- WalletRepository ---

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (s *memStore) ListUnpaidByChain(_ context.Context, chain domain.Chain, limit int) ([]domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Wallet
	for _, w := range s.wallets {
		o, ok := s.orders[w.OrderID]
		if w.Chain == chain && !w.Paid && ok && o.Status == domain.OrderStatusPending {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ci, iok := s.checked[out[i].ID]
		cj, jok := s.checked[out[j].ID]
		if iok != jok {
			return !iok
		}
		if ci != cj {
			return ci < cj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) FindUnpaidByAddress(_ context.Context, chain domain.Chain, address string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.Chain == chain && !w.Paid && domain.AddressesMatch(chain, w.Address, address) {
			return &w, nil
		}
	}
	return nil, nil
}

func (s *memStore) MarkPaid(_ context.Context, _ pgx.Tx, id uuid.UUID, txHash *string, confirmations int) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok || w.Paid {
		return nil, nil
	}
	w.Paid = true
	if txHash != nil {
		w.TxHash = txHash
	}
	w.Confirmations = max(w.Confirmations, confirmations)
	s.wallets[id] = w
	return &w, nil
}

func (s *memStore) MarkChecked(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkTick++
	for _, id := range ids {
		s.checked[id] = s.checkTick
	}
	return nil
}

func (s *memStore) RaiseConfirmations(_ context.Context, id uuid.UUID, confirmations int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if ok && !w.Paid && w.Confirmations < confirmations {
		w.Confirmations = confirmations
		s.wallets[id] = w
	}
	return nil
}

func (s *memStore) CountUnpaidByChain(context.Context) (map[domain.Chain]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[domain.Chain]int64{}
	for _, w := range s.wallets {
		if !w.Paid {
			out[w.Chain]++
		}
	}
	return out, nil
}

// --- OrderRepository ---

func (s *memStore) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *memStore) TransitionStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, from, to domain.OrderStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != from || !from.CanTransitionTo(to) {
		return false, nil
	}
	o.Status = to
	s.orders[id] = o
	return true, nil
}

func (s *memStore) ListItems(_ context.Context, _ pgx.Tx, orderID uuid.UUID) ([]domain.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderItem
	for _, it := range s.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductName < out[j].ProductName })
	return out, nil
}

func (s *memStore) SetItemCodes(_ context.Context, _ pgx.Tx, itemID uuid.UUID, codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.items[itemID]
	it.Codes = codes
	s.items[itemID] = it
	return nil
}

func (s *memStore) GetView(ctx context.Context, id uuid.UUID) (*domain.OrderView, error) {
	o, _ := s.GetByIDForUpdate(ctx, nil, id)
	if o == nil {
		return nil, nil
	}
	items, _ := s.ListItems(ctx, nil, id)
	return &domain.OrderView{Order: *o, Items: items}, nil
}

func (s *memStore) CancelStalePending(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, o := range s.orders {
		if o.Status == domain.OrderStatusPending && o.PaymentType != domain.PaymentTypeCrypto && o.CreatedAt.Before(cutoff) {
			o.Status = domain.OrderStatusCancelled
			s.orders[id] = o
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// --- ProductRepository ---

func (s *memStore) GetForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	p.Stock = append([]string(nil), p.Stock...)
	return &p, nil
}

func (s *memStore) UpdateStock(_ context.Context, _ pgx.Tx, id uuid.UUID, stock []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	p.Stock = append([]string(nil), stock...)
	s.products[id] = p
	return nil
}

// --- CouponRepository ---

func (s *memStore) IncrementUsage(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[id]++
	return nil
}

// --- fixtures ---

type orderFixture struct {
	walletID  uuid.UUID
	orderID   uuid.UUID
	productID uuid.UUID
	itemID    uuid.UUID
	couponID  uuid.UUID
}

// seedOrder stores a PENDING crypto order for quantity units of one product,
// paid through a BTC wallet.
func (s *memStore) seedOrder(quantity int, stock []string) orderFixture {
	f := orderFixture{
		walletID:  uuid.New(),
		orderID:   uuid.New(),
		productID: uuid.New(),
		itemID:    uuid.New(),
		couponID:  uuid.New(),
	}
	now := time.Now().UTC()

	s.products[f.productID] = domain.Product{ID: f.productID, Name: "Founder Cape", Slug: "founder-cape", Stock: stock}
	s.orders[f.orderID] = domain.Order{
		ID:            f.orderID,
		CustomerEmail: "buyer@example.com",
		Status:        domain.OrderStatusPending,
		PaymentType:   domain.PaymentTypeCrypto,
		CouponID:      &f.couponID,
		CreatedAt:     now,
	}
	s.items[f.itemID] = domain.OrderItem{
		ID: f.itemID, OrderID: f.orderID, ProductID: f.productID, ProductName: "Founder Cape", Quantity: quantity,
	}
	s.wallets[f.walletID] = domain.Wallet{
		ID:             f.walletID,
		OrderID:        f.orderID,
		Chain:          domain.ChainBitcoin,
		Address:        "bc1q" + f.walletID.String()[:8],
		ExpectedAmount: "0.01",
		CreatedAt:      now,
	}
	return f
}
