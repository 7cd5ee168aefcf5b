package services

import (
	"context"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/events"
	"farmmarket/internal/logging"
	"farmmarket/internal/models"
	"farmmarket/internal/repositories"
)

const maxReasonLength = 500

// Actor is the caller of an order operation: a signed-in user, a guest session, or an administrator.
type Actor struct {
	UserID    string
	SessionID string
	Admin     bool
}

// OrderService drives orders through their lifecycle. Every change runs in one transaction
// holding the order row lock, and stock released by a cancellation is returned in that
// same transaction.
type OrderService struct {
	txManager repositories.TxManager
	orderRepo repositories.OrderRepository
	ledger    *StockLedger
	publisher events.Publisher
	policy    *bluemonday.Policy
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderService creates a new OrderService.
func NewOrderService(txManager repositories.TxManager, orderRepo repositories.OrderRepository, ledger *StockLedger, publisher events.Publisher, logger *zap.Logger) *OrderService {
	return &OrderService{
		txManager: txManager,
		orderRepo: orderRepo,
		ledger:    ledger,
		publisher: events.OrNop(publisher),
		policy:    bluemonday.StrictPolicy(),
		logger:    logging.OrNop(logger).Named("orders"),
		now:       time.Now,
	}
}

// Get returns an order visible to actor. Orders of other customers look missing.
func (s *OrderService) Get(ctx context.Context, id string, actor Actor) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && !order.OwnedBy(actor.UserID, actor.SessionID) {
		return nil, apperrors.NotFound("order.get", "order with ID %s not found", id)
	}
	return order, nil
}

// ListForUser lists the actor's own orders, newest first.
func (s *OrderService) ListForUser(ctx context.Context, actor Actor, limit, offset int) ([]models.Order, error) {
	if actor.UserID == "" && actor.SessionID == "" {
		return nil, apperrors.Unauthorized("order.list", "sign in or provide a session to list orders")
	}
	filter := repositories.OrderFilter{Limit: limit, Offset: offset}
	if actor.UserID != "" {
		filter.UserID = actor.UserID
	} else {
		filter.SessionID = actor.SessionID
	}
	return s.orderRepo.List(ctx, filter)
}

// ListAll lists orders for administrators.
func (s *OrderService) ListAll(ctx context.Context, filter repositories.OrderFilter) ([]models.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.Validation("order.list", "unknown order status %q", filter.Status)
	}
	return s.orderRepo.List(ctx, filter)
}

// RequestCancellation records the owner's request to cancel. The status does not change.
func (s *OrderService) RequestCancellation(ctx context.Context, id string, actor Actor, reason string) (*models.Order, error) {
	const op = "order.request_cancellation"
	reason, err := s.cleanReason(op, reason, true)
	if err != nil {
		return nil, err
	}
	order, _, err := s.mutate(ctx, id, func(o *models.Order, now time.Time) ([]models.StockLine, bool, error) {
		if !o.OwnedBy(actor.UserID, actor.SessionID) {
			return nil, false, apperrors.NotFound(op, "order with ID %s not found", id)
		}
		return nil, true, o.RequestCancellation(reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, events.OrderCancellationRequested, order.ID, events.CancellationRequestedData{
		OrderID: order.ID,
		Reason:  reason,
	})
	return order, nil
}

// ApproveCancellation cancels the order and releases its stock exactly once.
func (s *OrderService) ApproveCancellation(ctx context.Context, id string) (*models.Order, error) {
	order, from, err := s.mutate(ctx, id, func(o *models.Order, now time.Time) ([]models.StockLine, bool, error) {
		lines, err := o.ApproveCancellation(now)
		return lines, true, err
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, events.OrderCancellationResolved, order.ID, events.CancellationResolvedData{
		OrderID:  order.ID,
		Approved: true,
	})
	s.statusChanged(ctx, order, from, "cancellation")
	return order, nil
}

// RejectCancellation closes the pending request and keeps the order in its status.
func (s *OrderService) RejectCancellation(ctx context.Context, id, reason string) (*models.Order, error) {
	const op = "order.reject_cancellation"
	reason, err := s.cleanReason(op, reason, false)
	if err != nil {
		return nil, err
	}
	order, _, err := s.mutate(ctx, id, func(o *models.Order, now time.Time) ([]models.StockLine, bool, error) {
		return nil, true, o.RejectCancellation(reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, events.OrderCancellationResolved, order.ID, events.CancellationResolvedData{
		OrderID:  order.ID,
		Approved: false,
		Reason:   reason,
	})
	return order, nil
}

// UpdateStatus applies an administrative status change. Moving to cancelled releases stock.
func (s *OrderService) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, trackingID *string) (*models.Order, error) {
	if trackingID != nil {
		trimmed := strings.TrimSpace(*trackingID)
		trackingID = &trimmed
	}
	order, from, err := s.mutate(ctx, id, func(o *models.Order, now time.Time) ([]models.StockLine, bool, error) {
		lines, err := o.AdvanceTo(status, trackingID, now)
		return lines, true, err
	})
	if err != nil {
		return nil, err
	}
	s.statusChanged(ctx, order, from, "admin")
	return order, nil
}

// ConfirmPayment is called by the payment collaborator once an online payment succeeds.
// Repeated confirmations are accepted and change nothing.
func (s *OrderService) ConfirmPayment(ctx context.Context, id, reference string) (*models.Order, error) {
	changed := false
	order, from, err := s.mutate(ctx, id, func(o *models.Order, now time.Time) ([]models.StockLine, bool, error) {
		var err error
		changed, err = o.ConfirmPayment(reference, now)
		return nil, changed, err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.statusChanged(ctx, order, from, "payment")
	}
	return order, nil
}

// FailPayment cancels a pending online order whose payment failed and releases its stock.
func (s *OrderService) FailPayment(ctx context.Context, id, reference string) (*models.Order, error) {
	changed := false
	order, from, err := s.mutate(ctx, id, func(o *models.Order, now time.Time) ([]models.StockLine, bool, error) {
		var (
			lines []models.StockLine
			err   error
		)
		lines, changed, err = o.FailPayment(reference, now)
		return lines, changed, err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.statusChanged(ctx, order, from, "payment")
	}
	return order, nil
}

// OverrideTotal replaces the order total with an administrator-supplied amount.
func (s *OrderService) OverrideTotal(ctx context.Context, id string, total decimal.Decimal, reason string) (*models.Order, error) {
	const op = "order.override_total"
	reason, err := s.cleanReason(op, reason, true)
	if err != nil {
		return nil, err
	}
	order, _, err := s.mutate(ctx, id, func(o *models.Order, now time.Time) ([]models.StockLine, bool, error) {
		return nil, true, o.OverrideTotal(total, reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("order total overridden",
		zap.String("order_id", order.ID),
		zap.String("total", order.Total.StringFixed(2)))
	return order, nil
}

// transition mutates a locked order and reports the stock to release and whether anything changed.
type transition func(o *models.Order, now time.Time) ([]models.StockLine, bool, error)

// mutate locks the order, applies fn, releases stock and saves the new state in one
// transaction. Any error leaves the order and stock untouched.
func (s *OrderService) mutate(ctx context.Context, id string, fn transition) (*models.Order, models.OrderStatus, error) {
	var (
		order *models.Order
		from  models.OrderStatus
	)
	err := s.txManager.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		o, err := repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		from = o.Status
		version := o.Version

		lines, changed, err := fn(o, s.now().UTC())
		if err != nil {
			return err
		}
		if len(lines) > 0 {
			if err := s.ledger.ReleaseTx(ctx, tx, lines); err != nil {
				return err
			}
		}
		if changed {
			if err := repo.SaveState(ctx, o, version); err != nil {
				return err
			}
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return order, from, nil
}

func (s *OrderService) statusChanged(ctx context.Context, order *models.Order, from models.OrderStatus, trigger string) {
	if order.Status == from {
		return
	}
	s.logger.Info("order status changed",
		zap.String("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(order.Status)),
		zap.String("trigger", trigger))
	s.publisher.Publish(ctx, events.OrderStatusChanged, order.ID, events.OrderStatusChangedData{
		OrderID:    order.ID,
		From:       from,
		To:         order.Status,
		TrackingID: order.TrackingID,
		Trigger:    trigger,
	})
}

// plainText drops any markup and leaves unescaped, trimmed text.
func plainText(policy *bluemonday.Policy, s string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(s)))
}

// cleanReason strips markup from free text supplied by customers and administrators.
func (s *OrderService) cleanReason(op, reason string, required bool) (string, error) {
	reason = plainText(s.policy, reason)
	if required && reason == "" {
		return "", apperrors.Validation(op, "a reason is required")
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return "", apperrors.Validation(op, "reason must be at most %d characters", maxReasonLength)
	}
	return reason, nil
}
