package orders

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

// MemoryStore keeps orders in process memory. Update holds a per-order lock for
// the whole mutation, mirroring the row lock taken by the Postgres store. Its
// write-back cannot fail once mutate succeeds, so stock changed through ledger
// is never left behind by a lost order write.
type MemoryStore struct {
	ledger  Ledger
	mu      sync.Mutex
	orders  map[string]*domain.Order
	numbers map[string]string
	locks   map[string]*sync.Mutex
}

// NewMemoryStore returns a store that hands ledger to every mutation. ledger
// may be nil when no mutation touches stock.
func NewMemoryStore(ledger Ledger) *MemoryStore {
	return &MemoryStore{
		ledger:  ledger,
		orders:  make(map[string]*domain.Order),
		numbers: make(map[string]string),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) Create(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.numbers[order.OrderNumber]; taken {
		return ErrDuplicateOrderNumber
	}
	m.orders[order.ID] = order.Clone()
	m.numbers[order.OrderNumber] = order.ID
	m.locks[order.ID] = &sync.Mutex{}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, mutate func(*domain.Order, Ledger) error) (*domain.Order, error) {
	m.mu.Lock()
	lock, ok := m.locks[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrOrderNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	order, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(order, m.ledger); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.orders[id] = order.Clone()
	m.mu.Unlock()
	return order, nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter) ([]domain.Order, error) {
	m.mu.Lock()
	var matched []domain.Order
	for _, order := range m.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		matched = append(matched, *order.Clone())
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset >= len(matched) {
		return []domain.Order{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (m *MemoryStore) StatusTotals(_ context.Context, userID string) ([]domain.StatusTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byStatus := make(map[domain.OrderStatus]*domain.StatusTotal)
	for _, order := range m.orders {
		if userID != "" && order.UserID != userID {
			continue
		}
		t, ok := byStatus[order.Status]
		if !ok {
			t = &domain.StatusTotal{Status: order.Status, Total: decimal.Zero}
			byStatus[order.Status] = t
		}
		t.Count++
		t.Total = t.Total.Add(order.TotalPrice)
	}

	totals := make([]domain.StatusTotal, 0, len(byStatus))
	for _, status := range domain.AllStatuses {
		if t, ok := byStatus[status]; ok {
			totals = append(totals, *t)
		}
	}
	return totals, nil
}
