package services_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/events"
	"farmmarket/internal/models"
	"farmmarket/internal/repositories"
	"farmmarket/internal/services"
)

func TestCheckout_CODOrderIsConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", true)
	potatoes := f.product(t, "Potatoes", "35.50", 20)
	beans := f.product(t, "Beans", "60.00", 8)

	res, err := f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		UserID:          alice.ID,
		Items:           []services.CheckoutItem{item(potatoes.ID, 2), item(beans.ID, 1)},
		Customer:        models.CustomerInfo{Name: "Alice", Email: "alice@example.com", Phone: "9999999999"},
		ShippingAddress: models.ShippingAddress{Line1: "12 Farm Road", City: "Pune", PostalCode: "411001", Country: "IN"},
		PaymentMethod:   models.PaymentCOD,
	})
	require.NoError(t, err)
	assert.Nil(t, res.PaymentDirective)

	order := res.Order
	assert.Equal(t, models.StatusConfirmed, order.Status)
	assert.True(t, dec("131").Equal(order.Subtotal))
	assert.True(t, dec("50").Equal(order.ShippingCost))
	assert.True(t, dec("181").Equal(order.Total))
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, models.UnassignedTracking, order.TrackingLabel())
	require.NotNil(t, order.UserID)
	assert.Equal(t, alice.ID, *order.UserID)

	assert.Equal(t, 18, f.stockOf(t, potatoes.ID))
	assert.Equal(t, 7, f.stockOf(t, beans.ID))

	stored, err := f.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "Pune", stored.ShippingAddress.City)
	assert.Equal(t, []string{events.OrderCreated}, f.sink.Types())
}

func TestCheckout_OnlineOrderReturnsPaymentDirective(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mangoes := f.product(t, "Mangoes", "250.00", 4)

	res, err := f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		SessionID:     "guest-session-1",
		Items:         []services.CheckoutItem{item(mangoes.ID, 2)},
		PaymentMethod: models.PaymentOnline,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, res.Order.Status)
	assert.Nil(t, res.Order.UserID)
	require.NotNil(t, res.PaymentDirective)
	assert.Equal(t, res.Order.ID, res.PaymentDirective.OrderID)
	assert.True(t, dec("550").Equal(res.PaymentDirective.Amount))
	assert.Equal(t, "INR", res.PaymentDirective.Currency)
	assert.NotEmpty(t, res.PaymentDirective.Reference)
	assert.Equal(t, 2, f.stockOf(t, mangoes.ID))
}

func TestCheckout_UsesStoredPricesNotLaterChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", true)
	okra := f.product(t, "Okra", "45.00", 10)

	order := f.checkoutCOD(t, alice, item(okra.ID, 2))

	okra.Price = dec("99.00")
	require.NoError(t, f.productSvc.UpdateProduct(ctx, okra))

	stored, err := f.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, dec("45").Equal(stored.Items[0].UnitPrice))
	assert.True(t, dec("140").Equal(stored.Total))
}

func TestCheckout_CODRequiresEnabledAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.user(t, "bob", false)
	rice := f.product(t, "Rice", "80.00", 10)

	_, err := f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		UserID:        bob.ID,
		Items:         []services.CheckoutItem{item(rice.ID, 1)},
		PaymentMethod: models.PaymentCOD,
	})
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))

	_, err = f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		SessionID:     "guest",
		Items:         []services.CheckoutItem{item(rice.ID, 1)},
		PaymentMethod: models.PaymentCOD,
	})
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))

	// access revoked after it was granted is honoured at submission time
	_, err = f.userSvc.SetCODAccess(ctx, bob.ID, true)
	require.NoError(t, err)
	f.checkoutCOD(t, bob, item(rice.ID, 1))
	_, err = f.userSvc.SetCODAccess(ctx, bob.ID, false)
	require.NoError(t, err)
	_, err = f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		UserID:        bob.ID,
		Items:         []services.CheckoutItem{item(rice.ID, 1)},
		PaymentMethod: models.PaymentCOD,
	})
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
	assert.Equal(t, 9, f.stockOf(t, rice.ID))
}

func TestCheckout_RejectsMalformedRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rice := f.product(t, "Rice", "80.00", 10)

	_, err := f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		Items:         []services.CheckoutItem{item(rice.ID, 1)},
		PaymentMethod: models.PaymentOnline,
	})
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))

	_, err = f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{SessionID: "s", PaymentMethod: models.PaymentOnline})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		SessionID:     "s",
		Items:         []services.CheckoutItem{item(rice.ID, 1)},
		PaymentMethod: "barter",
	})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		SessionID:     "s",
		Items:         []services.CheckoutItem{item(rice.ID, -2)},
		PaymentMethod: models.PaymentOnline,
	})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.Equal(t, 10, f.stockOf(t, rice.ID))
}

func TestCheckout_InsufficientStockIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", true)
	apples := f.product(t, "Apples", "120.00", 10)
	pears := f.product(t, "Pears", "140.00", 2)
	d := f.discount(t, &models.Discount{Code: "FRUIT", Type: models.DiscountFixed, Value: dec("20")})

	_, err := f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		UserID:        alice.ID,
		Items:         []services.CheckoutItem{item(apples.ID, 3), item(pears.ID, 3)},
		PaymentMethod: models.PaymentCOD,
		DiscountCode:  "FRUIT",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientStock))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{pears.ID}, appErr.ProductIDs)

	assert.Equal(t, 10, f.stockOf(t, apples.ID))
	assert.Equal(t, 2, f.stockOf(t, pears.ID))
	assert.Equal(t, 0, f.usedOf(t, d.ID))

	orders, err := f.orders.List(ctx, repositories.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.sink.Types())
}

func TestCheckout_DiscountIsRedeemedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", true)
	ghee := f.product(t, "Ghee", "450.00", 10)
	d := f.discount(t, &models.Discount{Code: "SAVE10", Type: models.DiscountPercentage, Value: dec("10")})

	res, err := f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		UserID:        alice.ID,
		Items:         []services.CheckoutItem{item(ghee.ID, 1)},
		PaymentMethod: models.PaymentCOD,
		DiscountCode:  "save10",
	})
	require.NoError(t, err)
	assert.True(t, dec("50").Equal(res.Order.DiscountAmount))
	assert.True(t, dec("450").Equal(res.Order.Total))
	require.Len(t, res.Order.AppliedDiscounts, 1)
	assert.Equal(t, "SAVE10", res.Order.AppliedDiscounts[0].Code)
	assert.Equal(t, 1, f.usedOf(t, d.ID))
}

func TestCheckout_FreeShippingDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	honey := f.product(t, "Honey", "500.00", 5)
	f.discount(t, &models.Discount{Code: "SHIPFREE", Type: models.DiscountFreeShipping})

	res, err := f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		SessionID:     "guest-honey",
		Items:         []services.CheckoutItem{item(honey.ID, 1)},
		PaymentMethod: models.PaymentOnline,
		DiscountCode:  "SHIPFREE",
	})
	require.NoError(t, err)
	assert.True(t, dec("500").Equal(res.Order.Subtotal))
	assert.True(t, dec("50").Equal(res.Order.ShippingCost))
	assert.True(t, dec("500").Equal(res.Order.Total))
	assert.True(t, dec("500").Equal(res.PaymentDirective.Amount))
}

func TestCheckout_BelowMinimumRejectsWholeOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	salt := f.product(t, "Salt", "20.00", 5)
	f.discount(t, &models.Discount{Code: "BULK", Type: models.DiscountFixed, Value: dec("30"), MinPurchase: dec("200")})

	_, err := f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		SessionID:     "guest",
		Items:         []services.CheckoutItem{item(salt.ID, 2)},
		PaymentMethod: models.PaymentOnline,
		DiscountCode:  "BULK",
	})
	assert.True(t, errors.Is(err, apperrors.DiscountRejectedReason(apperrors.ReasonBelowMinimum)))
	assert.Equal(t, 5, f.stockOf(t, salt.ID))
}

func TestCheckout_LastUnitConcurrently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jam := f.product(t, "Jam", "150.00", 1)

	errs := make([]error, 2)
	var g errgroup.Group
	for i := range errs {
		i := i
		g.Go(func() error {
			_, errs[i] = f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
				SessionID:     "guest-" + string(rune('a'+i)),
				Items:         []services.CheckoutItem{item(jam.ID, 1)},
				PaymentMethod: models.PaymentOnline,
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, apperrors.ErrInsufficientStock), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, f.stockOf(t, jam.ID))
}

func TestCheckout_UsageLimitHoldsUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cheese := f.product(t, "Cheese", "300.00", 50)
	d := f.discount(t, &models.Discount{Code: "SAVE10", Type: models.DiscountPercentage, Value: dec("10"), UsageLimit: 1})

	const shoppers = 6
	results := make([]*services.CheckoutResult, shoppers)
	errs := make([]error, shoppers)
	var g errgroup.Group
	for i := 0; i < shoppers; i++ {
		i := i
		g.Go(func() error {
			results[i], errs[i] = f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
				SessionID:     "shopper-" + string(rune('a'+i)),
				Items:         []services.CheckoutItem{item(cheese.ID, 1)},
				PaymentMethod: models.PaymentOnline,
				DiscountCode:  "SAVE10",
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	withDiscount := 0
	for i := range errs {
		if errs[i] != nil {
			assert.True(t, errors.Is(errs[i], apperrors.DiscountRejectedReason(apperrors.ReasonUsageExhausted)),
				"unexpected error: %v", errs[i])
			continue
		}
		if len(results[i].Order.AppliedDiscounts) == 1 {
			withDiscount++
		}
	}
	assert.Equal(t, 1, withDiscount)
	assert.Equal(t, 1, f.usedOf(t, d.ID))
	// rejected checkouts reserved nothing
	assert.Equal(t, 49, f.stockOf(t, cheese.ID))
}

func TestCheckout_RejectsOverflowingDuplicateLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kale := f.product(t, "Kale", "10.00", 5)

	_, err := f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		SessionID:     "guest-overflow",
		Items:         []services.CheckoutItem{item(kale.ID, math.MaxInt), item(kale.ID, math.MaxInt)},
		PaymentMethod: models.PaymentOnline,
	})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = f.checkoutSvc.Checkout(ctx, services.CheckoutRequest{
		SessionID:     "guest-overflow",
		Items:         []services.CheckoutItem{item(kale.ID, services.MaxLineQuantity), item(kale.ID, 1)},
		PaymentMethod: models.PaymentOnline,
	})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	assert.Equal(t, 5, f.stockOf(t, kale.ID))
	orders, err := f.orders.List(ctx, repositories.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestQuote_ReadsWithoutLocking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	basil := f.product(t, "Basil", "60.00", 3)
	f.discount(t, &models.Discount{Code: "HERBS", Type: models.DiscountFixed, Value: dec("10")})

	// A checkout holding the product row must not stall a price preview.
	err := repositories.NewGORMTxManager(f.db).WithTx(ctx, func(tx *gorm.DB) error {
		if _, _, err := f.ledger.LockTx(ctx, tx, []models.StockLine{{ProductID: basil.ID, Quantity: 1}}); err != nil {
			return err
		}
		pricing, discount, err := f.checkoutSvc.Quote(ctx, "", "guest-quote", []services.CheckoutItem{item(basil.ID, 2)}, "HERBS")
		if err != nil {
			return err
		}
		assert.NotNil(t, discount)
		assert.True(t, dec("120").Equal(pricing.Subtotal))
		assert.True(t, dec("160").Equal(pricing.Total))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, f.stockOf(t, basil.ID))

	_, _, err = f.checkoutSvc.Quote(ctx, "", "guest-quote", []services.CheckoutItem{item("missing", 1)}, "")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}
