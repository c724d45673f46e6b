package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

var tracer = otel.Tracer("orders")

const orderNumberAttempts = 3

type Service struct {
	store       Store
	ledger      Ledger
	publisher   EventPublisher
	idempotency IdempotencyStore
	newNumber   func() string
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics
}

type Option func(*Service)

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithIdempotency(store IdempotencyStore) Option {
	return func(s *Service) { s.idempotency = store }
}

func WithOrderNumbers(gen func() string) Option {
	return func(s *Service) { s.newNumber = gen }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, ledger Ledger, logger *slog.Logger, opts ...Option) (*Service, error) {
	m, err := newMetrics(otel.Meter("orders"))
	if err != nil {
		return nil, fmt.Errorf("create order metrics: %w", err)
	}

	s := &Service{
		store:     store,
		ledger:    ledger,
		newNumber: NewOrderNumber,
		now:       time.Now,
		logger:    logger,
		metrics:   m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type PlaceOrderInput struct {
	UserID          string
	Items           []CartItem
	ShippingAddress domain.Address
	BillingAddress  *domain.Address
	PaymentMethod   domain.PaymentMethod
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	Discount        decimal.Decimal
	TotalPrice      decimal.Decimal
	Notes           string
	IdempotencyKey  string
}

func (in PlaceOrderInput) validate() error {
	if len(in.Items) == 0 {
		return ErrEmptyCart
	}
	for _, item := range in.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: cart line without product id", ErrInvalidQuantity)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: product %s", ErrInvalidQuantity, item.ProductID)
		}
	}
	if err := in.ShippingAddress.Validate(); err != nil {
		return fmt.Errorf("shipping address: %w", err)
	}
	if in.BillingAddress != nil {
		if err := in.BillingAddress.Validate(); err != nil {
			return fmt.Errorf("billing address: %w", err)
		}
	}
	if !in.PaymentMethod.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, in.PaymentMethod)
	}
	for _, amount := range []decimal.Decimal{in.Subtotal, in.Tax, in.Shipping, in.Discount, in.TotalPrice} {
		if amount.IsNegative() {
			return ErrInvalidAmount
		}
	}
	return nil
}

// PlaceOrder turns a cart into a pending order. Stock for every line is
// reserved in cart order; if any line fails, or the declared amounts disagree
// with the reserved prices, every reservation made by this call is released
// before the original error is returned.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.place", trace.WithAttributes(
		attribute.String("user.id", in.UserID),
		attribute.Int("order.lines", len(in.Items)),
	))
	defer span.End()

	order, err := s.placeIdempotent(ctx, in)
	if err != nil {
		s.metrics.placementFailed(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	return order, nil
}

func (s *Service) placeIdempotent(ctx context.Context, in PlaceOrderInput) (*domain.Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	logger := s.logger.With("user_id", in.UserID)

	if s.idempotency == nil || in.IdempotencyKey == "" {
		return s.place(ctx, logger, in)
	}

	key := in.UserID + ":" + in.IdempotencyKey
	existingID, claimed, err := s.idempotency.Claim(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if !claimed {
		if existingID == "" {
			return nil, ErrRequestInFlight
		}
		logger.Info("replaying order placement", "order_id", existingID, "idempotency_key", in.IdempotencyKey)
		return s.store.Get(ctx, existingID)
	}

	order, err := s.place(ctx, logger, in)
	if err != nil {
		if abandonErr := s.idempotency.Abandon(context.WithoutCancel(ctx), key); abandonErr != nil {
			logger.Warn("failed to abandon idempotency key", "error", abandonErr, "idempotency_key", in.IdempotencyKey)
		}
		return nil, err
	}
	if err := s.idempotency.Complete(context.WithoutCancel(ctx), key, order.ID); err != nil {
		// A key left pending would turn every retry into ErrRequestInFlight.
		logger.Error("failed to record idempotency key", "error", err, "order_id", order.ID, "idempotency_key", in.IdempotencyKey)
		if abandonErr := s.idempotency.Abandon(context.WithoutCancel(ctx), key); abandonErr != nil {
			logger.Warn("failed to abandon idempotency key", "error", abandonErr, "idempotency_key", in.IdempotencyKey)
		}
	}
	return order, nil
}

func (s *Service) place(ctx context.Context, logger *slog.Logger, in PlaceOrderInput) (*domain.Order, error) {
	reservations := make([]domain.Reservation, 0, len(in.Items))

	// Compensation must finish even if the caller goes away.
	rollback := func(cause error) error {
		if len(reservations) == 0 {
			return cause
		}
		failed := s.releaseReverse(context.WithoutCancel(ctx), reservations)
		if len(failed) == 0 {
			s.metrics.rollbacks.Add(ctx, 1)
			logger.Info("stock reservations rolled back", "lines", len(reservations), "cause", cause)
			return cause
		}
		inconsistency := &InconsistencyError{Operation: "placement rollback", Failed: failed}
		s.metrics.inconsistent(ctx, "placement_rollback")
		logger.Error("failed to roll back stock reservations", "error", inconsistency, "cause", cause, "inconsistency", true)
		return errors.Join(cause, inconsistency)
	}

	for _, item := range in.Items {
		res, err := s.ledger.Reserve(ctx, item.ProductID, item.Quantity)
		if err != nil {
			logger.Info("stock reservation refused", "product_id", item.ProductID, "quantity", item.Quantity, "error", err)
			return nil, rollback(err)
		}
		reservations = append(reservations, res)
	}

	lines := make([]domain.OrderLine, 0, len(reservations))
	for _, res := range reservations {
		lines = append(lines, domain.OrderLine{
			ProductID: res.ProductID,
			Title:     res.Title,
			Quantity:  res.Quantity,
			UnitPrice: res.UnitPrice,
		})
	}

	subtotal := domain.LinesSubtotal(lines)
	if !domain.WithinTolerance(subtotal, in.Subtotal) {
		return nil, rollback(&MismatchError{Kind: ErrSubtotalMismatch, Declared: in.Subtotal, Calculated: subtotal})
	}

	total := domain.ComputeTotal(subtotal, in.Tax, in.Shipping, in.Discount)
	if !domain.WithinTolerance(total, in.TotalPrice) {
		return nil, rollback(&MismatchError{Kind: ErrTotalMismatch, Declared: in.TotalPrice, Calculated: total})
	}
	if total.IsNegative() {
		return nil, rollback(ErrInvalidAmount)
	}

	now := s.now().UTC()
	order := &domain.Order{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		Lines:           lines,
		Status:          domain.OrderStatusPending,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   domain.PaymentStatusPending,
		Subtotal:        subtotal,
		Tax:             in.Tax,
		Shipping:        in.Shipping,
		Discount:        in.Discount,
		TotalPrice:      total,
		Notes:           strings.TrimSpace(in.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.create(ctx, order); err != nil {
		return nil, rollback(fmt.Errorf("persist order: %w", err))
	}

	s.metrics.placed.Add(ctx, 1)
	logger.Info("order placed", "order_id", order.ID, "order_number", order.OrderNumber, "total", order.TotalPrice.StringFixed(2))
	s.publish(ctx, logger, domain.NewOrderEvent(domain.OrderEventCreated, order, now))
	return order, nil
}

func (s *Service) create(ctx context.Context, order *domain.Order) error {
	var err error
	for range orderNumberAttempts {
		order.OrderNumber = s.newNumber()
		err = s.store.Create(ctx, order)
		if !errors.Is(err, ErrDuplicateOrderNumber) {
			return err
		}
		s.logger.Warn("order number collision, regenerating", "order_number", order.OrderNumber)
	}
	return err
}

// releaseReverse releases reservations newest first and reports the ones that
// could not be returned to stock.
func (s *Service) releaseReverse(ctx context.Context, reservations []domain.Reservation) []LineFailure {
	var failed []LineFailure
	for i := len(reservations) - 1; i >= 0; i-- {
		res := reservations[i]
		if err := s.ledger.Release(ctx, res.ProductID, res.Quantity); err != nil {
			failed = append(failed, LineFailure{ProductID: res.ProductID, Quantity: res.Quantity, Err: err})
		}
	}
	return failed
}

func (s *Service) publish(ctx context.Context, logger *slog.Logger, event domain.OrderEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event.OrderID, event); err != nil {
		logger.Error("failed to publish order event", "error", err, "type", event.Type, "order_id", event.OrderID)
	}
}
