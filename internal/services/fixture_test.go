package services_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmmarket/internal/events"
	"farmmarket/internal/models"
	"farmmarket/internal/repositories"
	"farmmarket/internal/services"
	"farmmarket/internal/testutil"
)

// fixture wires every service against a private SQLite database.
type fixture struct {
	db        *gorm.DB
	sink      *events.MemorySink
	products  repositories.ProductRepository
	orders    repositories.OrderRepository
	discounts repositories.DiscountRepository
	users     repositories.UserRepository

	ledger      *services.StockLedger
	discountSvc *services.DiscountService
	orderSvc    *services.OrderService
	checkoutSvc *services.CheckoutService
	productSvc  *services.ProductService
	authSvc     *services.AuthService
	userSvc     *services.UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	logger := zap.NewNop()
	sink := events.NewMemorySink()
	bus := events.NewBus(sink, logger)
	txm := repositories.NewGORMTxManager(db)

	f := &fixture{
		db:        db,
		sink:      sink,
		products:  repositories.NewGORMProductRepository(db),
		orders:    repositories.NewGORMOrderRepository(db),
		discounts: repositories.NewGORMDiscountRepository(db),
		users:     repositories.NewGORMUserRepository(db),
	}
	f.ledger = services.NewStockLedger(txm, f.products, bus, logger)
	f.discountSvc = services.NewDiscountService(txm, f.discounts, logger)
	f.orderSvc = services.NewOrderService(txm, f.orders, f.ledger, bus, logger)
	f.checkoutSvc = services.NewCheckoutService(txm, f.orders, f.users, f.discountSvc, f.ledger,
		services.CheckoutConfig{
			Shipping: services.ShippingPolicy{FlatFee: decimal.NewFromInt(50)},
			Currency: "INR",
		}, bus, logger)
	f.productSvc = services.NewProductService(f.products, f.ledger, logger)
	f.authSvc = services.NewAuthService(f.users, "test_jwt_secret", logger)
	f.userSvc = services.NewUserService(f.users, f.authSvc, logger)
	return f
}

func (f *fixture) product(t *testing.T, name string, price string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		Name:          name,
		Category:      "vegetables",
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	}
	require.NoError(t, f.productSvc.CreateProduct(context.Background(), p))
	return p
}

func (f *fixture) user(t *testing.T, username string, cod bool) *models.User {
	t.Helper()
	ctx := context.Background()
	u := &models.User{Username: username, Email: username + "@example.com", Password: "password123"}
	require.NoError(t, f.authSvc.RegisterUser(ctx, u))
	if cod {
		_, err := f.userSvc.SetCODAccess(ctx, u.ID, true)
		require.NoError(t, err)
	}
	return u
}

func (f *fixture) discount(t *testing.T, d *models.Discount) *models.Discount {
	t.Helper()
	require.NoError(t, f.discountSvc.Create(context.Background(), d))
	return d
}

func (f *fixture) stockOf(t *testing.T, productID string) int {
	t.Helper()
	p, err := f.products.GetByID(context.Background(), productID)
	require.NoError(t, err)
	return p.StockQuantity
}

func (f *fixture) usedOf(t *testing.T, discountID string) int {
	t.Helper()
	d, err := f.discounts.GetByID(context.Background(), discountID)
	require.NoError(t, err)
	return d.Used
}

// checkoutCOD places a cash-on-delivery order for user.
func (f *fixture) checkoutCOD(t *testing.T, user *models.User, items ...services.CheckoutItem) *models.Order {
	t.Helper()
	res, err := f.checkoutSvc.Checkout(context.Background(), services.CheckoutRequest{
		UserID:        user.ID,
		Items:         items,
		Customer:      models.CustomerInfo{Name: user.Username, Email: user.Email},
		PaymentMethod: models.PaymentCOD,
	})
	require.NoError(t, err)
	return res.Order
}

func item(productID string, qty int) services.CheckoutItem {
	return services.CheckoutItem{ProductID: productID, Quantity: qty}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
