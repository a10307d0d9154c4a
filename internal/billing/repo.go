package billing

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/angelmondragon/habits-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultGraceSweepLimit = 250

// Repository handles subscription and billing customer persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	FindCurrentByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	FindCurrentByUserForUpdate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	FindLatestBySubscriptionRef(ctx context.Context, subscriptionRef string) (*models.Subscription, error)
	FindLatestByCustomerRef(ctx context.Context, customerRef string) (*models.Subscription, error)
	ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	FindCustomer(ctx context.Context, userID uuid.UUID) (*models.BillingCustomer, error)
	FindCustomerByRef(ctx context.Context, customerRef string) (*models.BillingCustomer, error)
	CreateCustomer(ctx context.Context, customer *models.BillingCustomer) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

// FindCurrentByUser returns the user's live row, or their most recent row when none is live.
func (r *repository) FindCurrentByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return r.findCurrent(r.db.WithContext(ctx), userID)
}

// FindCurrentByUserForUpdate is FindCurrentByUser holding a row lock until the transaction ends.
func (r *repository) FindCurrentByUserForUpdate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return r.findCurrent(r.lock(r.db.WithContext(ctx)), userID)
}

func (r *repository) findCurrent(query *gorm.DB, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	res := query.Session(&gorm.Session{}).
		Where("user_id = ? AND status IN ?", userID, liveStatuses()).
		Order("created_at DESC").
		First(&sub)
	found, err := firstOrNil(res, &sub)
	if err != nil || found != nil {
		return found, err
	}

	var latest models.Subscription
	res = query.Session(&gorm.Session{}).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("updated_at DESC").
		First(&latest)
	return firstOrNil(res, &latest)
}

func (r *repository) FindLatestBySubscriptionRef(ctx context.Context, subscriptionRef string) (*models.Subscription, error) {
	var sub models.Subscription
	res := r.db.WithContext(ctx).
		Where("external_subscription_ref = ?", subscriptionRef).
		Order("created_at DESC").
		First(&sub)
	return firstOrNil(res, &sub)
}

func (r *repository) FindLatestByCustomerRef(ctx context.Context, customerRef string) (*models.Subscription, error) {
	var sub models.Subscription
	res := r.db.WithContext(ctx).
		Where("external_customer_ref = ?", customerRef).
		Order("created_at DESC").
		First(&sub)
	return firstOrNil(res, &sub)
}

// ListGraceExpired returns past_due rows whose grace deadline is before now, oldest deadline first.
func (r *repository) ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = defaultGraceSweepLimit
	}
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ? AND grace_deadline IS NOT NULL AND grace_deadline < ?", enums.SubscriptionStatusPastDue, now.UTC()).
		Order("grace_deadline ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *repository) FindCustomer(ctx context.Context, userID uuid.UUID) (*models.BillingCustomer, error) {
	var customer models.BillingCustomer
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&customer)
	return firstOrNil(res, &customer)
}

func (r *repository) FindCustomerByRef(ctx context.Context, customerRef string) (*models.BillingCustomer, error) {
	var customer models.BillingCustomer
	res := r.db.WithContext(ctx).Where("external_customer_ref = ?", customerRef).First(&customer)
	return firstOrNil(res, &customer)
}

func (r *repository) CreateCustomer(ctx context.Context, customer *models.BillingCustomer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

// lock adds SELECT ... FOR UPDATE on dialects that support it. sqlite
// serializes writers on its own and rejects the clause.
func (r *repository) lock(query *gorm.DB) *gorm.DB {
	if query.Dialector != nil && query.Dialector.Name() == "postgres" {
		return query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

func liveStatuses() []enums.SubscriptionStatus {
	return []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusPastDue,
	}
}

func firstOrNil[T any](res *gorm.DB, out *T) (*T, error) {
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, res.Error
	}
	return out, nil
}
