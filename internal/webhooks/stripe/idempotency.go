package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Deduplicator records processed provider event ids in processed_events.
// The insert itself is the admission decision.
type Deduplicator struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDeduplicator(db *gorm.DB) (*Deduplicator, error) {
	if db == nil {
		return nil, errors.New("database required")
	}
	return &Deduplicator{db: db, now: time.Now}, nil
}

// Admission is the result of Admit. A first-seen admission must end with
// Commit or Release: Release after a failure deletes the record so the
// provider's redelivery is accepted again.
type Admission struct {
	dedup     *Deduplicator
	eventID   string
	duplicate bool
	committed bool
}

// Duplicate reports whether the event id had already been recorded.
func (a *Admission) Duplicate() bool { return a.duplicate }

// Commit keeps the record; a later Release becomes a no-op.
func (a *Admission) Commit() { a.committed = true }

// Release removes the record unless the admission was committed or was a duplicate.
func (a *Admission) Release(ctx context.Context) error {
	if a == nil || a.duplicate || a.committed {
		return nil
	}
	// The request context may already be canceled when processing failed.
	ctx = context.WithoutCancel(ctx)
	err := a.dedup.db.WithContext(ctx).
		Where("event_id = ?", a.eventID).
		Delete(&models.ProcessedEvent{}).Error
	if err != nil {
		return fmt.Errorf("release processed event %s: %w", a.eventID, err)
	}
	a.committed = true
	return nil
}

// Admit inserts eventID if absent. Concurrent deliveries of the same id
// race on the primary key and exactly one sees a first-seen admission.
func (d *Deduplicator) Admit(ctx context.Context, eventID, eventType string) (*Admission, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, errors.New("event id is required")
	}
	record := models.ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: d.now().UTC(),
	}
	res := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record)
	if res.Error != nil {
		return nil, fmt.Errorf("record processed event: %w", res.Error)
	}
	return &Admission{dedup: d, eventID: eventID, duplicate: res.RowsAffected == 0}, nil
}

// Prune deletes records processed before cutoff, at most limit rows per call.
func (d *Deduplicator) Prune(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	sub := d.db.Model(&models.ProcessedEvent{}).
		Select("event_id").
		Where("processed_at < ?", cutoff.UTC()).
		Order("processed_at ASC").
		Limit(limit)
	res := d.db.WithContext(ctx).
		Where("event_id IN (?)", sub).
		Delete(&models.ProcessedEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune processed events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
