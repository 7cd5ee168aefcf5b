package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/logging"
	"farmmarket/internal/models"
	"farmmarket/internal/repositories"
)

// DiscountService decides whether a discount applies and administers discount definitions.
type DiscountService struct {
	txManager repositories.TxManager
	repo      repositories.DiscountRepository
	policy    *bluemonday.Policy
	logger    *zap.Logger
	now       func() time.Time
}

// NewDiscountService creates a new DiscountService.
func NewDiscountService(txManager repositories.TxManager, repo repositories.DiscountRepository, logger *zap.Logger) *DiscountService {
	return &DiscountService{
		txManager: txManager,
		repo:      repo,
		policy:    bluemonday.StrictPolicy(),
		logger:    logging.OrNop(logger).Named("discounts"),
		now:       time.Now,
	}
}

// RedemptionKey identifies who redeemed a discount: the user id, or the guest session.
func RedemptionKey(userID, sessionID string) string {
	if userID != "" {
		return "user:" + userID
	}
	if sessionID != "" {
		return "session:" + sessionID
	}
	return ""
}

// Validate checks codeOrID against base (subtotal plus shipping) without taking locks or
// consuming a use. An empty userKey skips the per-user check.
func (s *DiscountService) Validate(ctx context.Context, codeOrID string, base decimal.Decimal, userKey string) (*models.Discount, error) {
	discount, err := s.lookup(ctx, s.repo, codeOrID, false)
	if err != nil {
		return nil, err
	}
	if err := s.check(ctx, s.repo, discount, base, userKey); err != nil {
		return nil, err
	}
	return discount, nil
}

// ValidateTx repeats the checks inside tx with the discount row locked. Checkout calls it
// right before redeeming.
func (s *DiscountService) ValidateTx(ctx context.Context, tx *gorm.DB, codeOrID string, base decimal.Decimal, userKey string) (*models.Discount, error) {
	repo := s.repo.WithTx(tx)
	discount, err := s.lookup(ctx, repo, codeOrID, true)
	if err != nil {
		return nil, err
	}
	if err := s.check(ctx, repo, discount, base, userKey); err != nil {
		return nil, err
	}
	return discount, nil
}

// RedeemTx consumes one use of the discount inside tx. Losing the race for the last use
// rejects the checkout.
func (s *DiscountService) RedeemTx(ctx context.Context, tx *gorm.DB, discountID string) error {
	ok, err := s.repo.WithTx(tx).TryIncrementUsage(ctx, discountID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.DiscountRejected("discount.redeem", apperrors.ReasonUsageExhausted, "discount usage limit reached")
	}
	return nil
}

func (s *DiscountService) lookup(ctx context.Context, repo repositories.DiscountRepository, codeOrID string, lock bool) (*models.Discount, error) {
	const op = "discount.validate"
	codeOrID = strings.TrimSpace(codeOrID)
	if codeOrID == "" {
		return nil, apperrors.Validation(op, "discount code is required")
	}

	var (
		discount *models.Discount
		err      error
	)
	if _, parseErr := uuid.Parse(codeOrID); parseErr == nil {
		discount, err = repo.GetByID(ctx, codeOrID)
	} else {
		discount, err = repo.GetByCode(ctx, codeOrID)
	}
	if err == nil && lock {
		discount, err = repo.LockByID(ctx, discount.ID)
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.DiscountRejected(op, apperrors.ReasonNotFound, "discount %s does not exist", codeOrID)
		}
		return nil, err
	}
	return discount, nil
}

// check applies the admission rules in order and stops at the first failure.
func (s *DiscountService) check(ctx context.Context, repo repositories.DiscountRepository, d *models.Discount, base decimal.Decimal, userKey string) error {
	const op = "discount.validate"
	if d.Status != models.DiscountActive {
		return apperrors.DiscountRejected(op, apperrors.ReasonInactive, "discount %s is %s", d.Code, d.Status)
	}
	if !d.InWindow(s.now()) {
		return apperrors.DiscountRejected(op, apperrors.ReasonExpired, "discount %s is not valid at this time", d.Code)
	}
	if base.LessThan(d.MinPurchase) {
		return apperrors.DiscountRejected(op, apperrors.ReasonBelowMinimum,
			"discount %s requires a minimum purchase of %s", d.Code, d.MinPurchase.StringFixed(2))
	}
	if !d.HasCapacity() {
		return apperrors.DiscountRejected(op, apperrors.ReasonUsageExhausted, "discount %s has been fully used", d.Code)
	}
	if d.PerUser && userKey != "" {
		count, err := repo.CountRedemptions(ctx, d.ID, userKey)
		if err != nil {
			return err
		}
		if count > 0 {
			return apperrors.DiscountRejected(op, apperrors.ReasonAlreadyUsed, "discount %s was already used", d.Code)
		}
	}
	return nil
}

// List returns every discount.
func (s *DiscountService) List(ctx context.Context) ([]models.Discount, error) {
	return s.repo.GetAll(ctx)
}

// Get returns a discount by id.
func (s *DiscountService) Get(ctx context.Context, id string) (*models.Discount, error) {
	return s.repo.GetByID(ctx, id)
}

// Create stores a new discount. Its usage counter always starts at zero.
func (s *DiscountService) Create(ctx context.Context, d *models.Discount) error {
	if err := s.normalize("discount.create", d); err != nil {
		return err
	}
	d.Used = 0
	if err := s.repo.Create(ctx, d); err != nil {
		return err
	}
	s.logger.Info("discount created", zap.String("discount_id", d.ID), zap.String("code", d.Code))
	return nil
}

// Update rewrites the editable fields of a discount. Used is preserved.
func (s *DiscountService) Update(ctx context.Context, d *models.Discount) error {
	const op = "discount.update"
	existing, err := s.repo.GetByID(ctx, d.ID)
	if err != nil {
		return err
	}
	if err := s.normalize(op, d); err != nil {
		return err
	}
	if d.UsageLimit > 0 && existing.Used > d.UsageLimit {
		return apperrors.Validation(op, "usage limit %d is below the %d uses already recorded", d.UsageLimit, existing.Used)
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return err
	}
	d.Used = existing.Used
	d.CreatedAt = existing.CreatedAt
	return nil
}

// CorrectUsage overwrites the usage counter. This is the only way it ever goes down.
func (s *DiscountService) CorrectUsage(ctx context.Context, id string, used int) (*models.Discount, error) {
	const op = "discount.correct_usage"
	if used < 0 {
		return nil, apperrors.Validation(op, "usage must not be negative")
	}
	var discount *models.Discount
	err := s.txManager.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		d, err := repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if d.UsageLimit > 0 && used > d.UsageLimit {
			return apperrors.Validation(op, "usage %d exceeds the limit of %d", used, d.UsageLimit)
		}
		if err := repo.SetUsed(ctx, id, used); err != nil {
			return err
		}
		s.logger.Info("discount usage corrected",
			zap.String("discount_id", id),
			zap.Int("from", d.Used),
			zap.Int("to", used))
		d.Used = used
		discount = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return discount, nil
}

func (s *DiscountService) normalize(op string, d *models.Discount) error {
	d.Code = models.NormalizeDiscountCode(d.Code)
	d.Description = plainText(s.policy, d.Description)
	if d.Status == "" {
		d.Status = models.DiscountActive
	}

	switch {
	case d.Code == "":
		return apperrors.Validation(op, "discount code is required")
	case !d.Type.Valid():
		return apperrors.Validation(op, "unknown discount type %q", d.Type)
	case !d.Status.Valid():
		return apperrors.Validation(op, "unknown discount status %q", d.Status)
	case d.Type != models.DiscountFreeShipping && !d.Value.IsPositive():
		return apperrors.Validation(op, "discount value must be positive")
	case d.Type == models.DiscountPercentage && d.Value.GreaterThan(hundred):
		return apperrors.Validation(op, "percentage discount cannot exceed 100")
	case d.MinPurchase.IsNegative():
		return apperrors.Validation(op, "minimum purchase must not be negative")
	case d.UsageLimit < 0:
		return apperrors.Validation(op, "usage limit must not be negative")
	case !d.StartDate.IsZero() && !d.EndDate.IsZero() && d.EndDate.Before(d.StartDate):
		return apperrors.Validation(op, "end date must not be before start date")
	}
	if d.Type == models.DiscountFreeShipping {
		d.Value = decimal.Zero
	}
	d.Value = d.Value.Round(2)
	d.MinPurchase = d.MinPurchase.Round(2)
	return nil
}
