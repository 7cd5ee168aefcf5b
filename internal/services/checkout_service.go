package services

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/events"
	"farmmarket/internal/logging"
	"farmmarket/internal/models"
	"farmmarket/internal/repositories"
)

// CheckoutItem is one cart line. Prices are never taken from the client.
type CheckoutItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0,max=10000"`
}

// CheckoutRequest is a cart submitted for purchase by a user or a guest session.
type CheckoutRequest struct {
	UserID          string
	SessionID       string
	Items           []CheckoutItem
	Customer        models.CustomerInfo
	ShippingAddress models.ShippingAddress
	PaymentMethod   models.PaymentMethod
	DiscountCode    string // code or discount id, optional
}

// PaymentDirective tells the client how much to collect through the payment collaborator.
type PaymentDirective struct {
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
}

// CheckoutResult is the created order plus, for online payment, the directive to pay it.
type CheckoutResult struct {
	Order            *models.Order     `json:"order"`
	PaymentDirective *PaymentDirective `json:"payment_directive,omitempty"`
}

// CheckoutService turns a cart into an order in a single transaction.
type CheckoutService struct {
	txManager repositories.TxManager
	orderRepo repositories.OrderRepository
	userRepo  repositories.UserRepository
	discounts *DiscountService
	ledger    *StockLedger
	shipping  ShippingPolicy
	currency  string
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// CheckoutConfig holds the pricing settings of checkout.
type CheckoutConfig struct {
	Shipping ShippingPolicy
	Currency string
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(
	txManager repositories.TxManager,
	orderRepo repositories.OrderRepository,
	userRepo repositories.UserRepository,
	discounts *DiscountService,
	ledger *StockLedger,
	cfg CheckoutConfig,
	publisher events.Publisher,
	logger *zap.Logger,
) *CheckoutService {
	currency := strings.ToUpper(cfg.Currency)
	if currency == "" {
		currency = "INR"
	}
	return &CheckoutService{
		txManager: txManager,
		orderRepo: orderRepo,
		userRepo:  userRepo,
		discounts: discounts,
		ledger:    ledger,
		shipping:  cfg.Shipping,
		currency:  currency,
		publisher: events.OrNop(publisher),
		logger:    logging.OrNop(logger).Named("checkout"),
		now:       time.Now,
	}
}

// Quote prices a cart without reserving anything. It backs the discount preview.
func (s *CheckoutService) Quote(ctx context.Context, userID, sessionID string, items []CheckoutItem, discountCode string) (Pricing, *models.Discount, error) {
	products, merged, err := s.ledger.Lookup(ctx, toStockLines(items))
	if err != nil {
		return Pricing{}, nil, err
	}
	subtotal := subtotalOf(products, merged)
	shipping := s.shipping.Cost(subtotal)
	var discount *models.Discount
	if discountCode != "" {
		discount, err = s.discounts.Validate(ctx, discountCode, subtotal.Add(shipping), RedemptionKey(userID, sessionID))
		if err != nil {
			return Pricing{}, nil, err
		}
	}
	return ComputePricing(subtotal, shipping, discount), discount, nil
}

// Checkout validates the cart, reserves stock, prices the order, records it and consumes the
// discount. Either all of that commits or none of it does.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	const op = "checkout"
	if err := s.validateRequest(op, req); err != nil {
		return nil, err
	}
	userKey := RedemptionKey(req.UserID, req.SessionID)
	lines := toStockLines(req.Items)

	var (
		order    *models.Order
		reserved []models.Product
	)
	err := s.txManager.WithTx(ctx, func(tx *gorm.DB) error {
		if req.PaymentMethod == models.PaymentCOD {
			if err := s.checkCOD(ctx, tx, op, req.UserID); err != nil {
				return err
			}
		}

		// authoritative prices come from the locked product rows
		products, merged, err := s.ledger.LockTx(ctx, tx, lines)
		if err != nil {
			return err
		}
		subtotal := subtotalOf(products, merged)
		shipping := s.shipping.Cost(subtotal)

		var discount *models.Discount
		if req.DiscountCode != "" {
			discount, err = s.discounts.ValidateTx(ctx, tx, req.DiscountCode, subtotal.Add(shipping), userKey)
			if err != nil {
				return err
			}
		}

		reserved, err = s.ledger.ReserveTx(ctx, tx, lines)
		if err != nil {
			return err
		}

		pricing := ComputePricing(subtotal, shipping, discount)
		order = s.buildOrder(req, products, merged, pricing, discount, userKey)
		if err := s.orderRepo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		if discount != nil {
			if err := s.discounts.RedeemTx(ctx, tx, discount.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Info("checkout rejected", zap.String("kind", string(apperrors.KindOf(err))), zap.Error(err))
		return nil, err
	}

	s.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("total", order.Total.StringFixed(2)))
	s.publisher.Publish(ctx, events.OrderCreated, order.ID, events.NewOrderCreated(order))
	s.ledger.NotifyLowStock(ctx, reserved)

	result := &CheckoutResult{Order: order}
	if order.PaymentMethod.RequiresPayment() {
		result.PaymentDirective = &PaymentDirective{
			OrderID:   order.ID,
			Amount:    order.Total,
			Currency:  order.Currency,
			Reference: order.PaymentRef,
		}
	}
	return result, nil
}

func (s *CheckoutService) validateRequest(op string, req CheckoutRequest) error {
	if req.UserID == "" && req.SessionID == "" {
		return apperrors.Unauthorized(op, "sign in or provide a session to check out")
	}
	if len(req.Items) == 0 {
		return apperrors.Validation(op, "cart is empty")
	}
	if !req.PaymentMethod.Valid() {
		return apperrors.Validation(op, "unknown payment method %q", req.PaymentMethod)
	}
	return nil
}

// checkCOD re-reads the user's cash-on-delivery flag inside the checkout transaction.
func (s *CheckoutService) checkCOD(ctx context.Context, tx *gorm.DB, op, userID string) error {
	if userID == "" {
		return apperrors.Unauthorized(op, "cash on delivery requires a signed-in account")
	}
	user, err := s.userRepo.WithTx(tx).GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.CODEnabled {
		return apperrors.Unauthorized(op, "cash on delivery is not enabled for this account")
	}
	return nil
}

func (s *CheckoutService) buildOrder(req CheckoutRequest, products []models.Product, lines []models.StockLine, pricing Pricing, discount *models.Discount, userKey string) *models.Order {
	now := s.now().UTC()
	order := &models.Order{
		SessionID:       req.SessionID,
		Customer:        req.Customer,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Status:          models.StatusConfirmed,
		Currency:        s.currency,
		Subtotal:        pricing.Subtotal,
		ShippingCost:    pricing.Shipping,
		DiscountAmount:  pricing.DiscountAmount,
		Total:           pricing.Total,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.UserID != "" {
		userID := req.UserID
		order.UserID = &userID
	}
	if req.PaymentMethod.RequiresPayment() {
		order.Status = models.StatusPending
		order.PaymentRef = ulid.Make().String()
	}
	for i, line := range lines {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:   line.ProductID,
			ProductName: products[i].Name,
			Quantity:    line.Quantity,
			UnitPrice:   products[i].Price,
		})
	}
	if discount != nil {
		order.AppliedDiscounts = []models.AppliedDiscount{{
			DiscountID: discount.ID,
			UserKey:    userKey,
			Code:       discount.Code,
			Type:       discount.Type,
			Value:      discount.Value,
			Amount:     pricing.DiscountAmount,
			CreatedAt:  now,
		}}
	}
	return order
}

func toStockLines(items []CheckoutItem) []models.StockLine {
	lines := make([]models.StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, models.StockLine{ProductID: strings.TrimSpace(item.ProductID), Quantity: item.Quantity})
	}
	return lines
}

// subtotalOf sums the price snapshots; products and lines are parallel slices.
func subtotalOf(products []models.Product, lines []models.StockLine) decimal.Decimal {
	subtotal := decimal.Zero
	for i, line := range lines {
		subtotal = subtotal.Add(products[i].Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return subtotal.Round(2)
}
