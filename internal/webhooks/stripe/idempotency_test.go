package stripewebhook

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:webhooks_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.ProcessedEvent{}))
	return conn
}

func countEvents(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&models.ProcessedEvent{}).Count(&n).Error)
	return n
}

func TestAdmitFirstSeenThenDuplicate(t *testing.T) {
	conn := newTestDB(t)
	dedup, err := NewDeduplicator(conn)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := dedup.Admit(ctx, "evt_1", "invoice.paid")
	require.NoError(t, err)
	assert.False(t, first.Duplicate())
	first.Commit()

	second, err := dedup.Admit(ctx, "evt_1", "invoice.paid")
	require.NoError(t, err)
	assert.True(t, second.Duplicate())
	assert.Equal(t, int64(1), countEvents(t, conn))
}

func TestReleaseAllowsRedelivery(t *testing.T) {
	conn := newTestDB(t)
	dedup, err := NewDeduplicator(conn)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	admission, err := dedup.Admit(ctx, "evt_1", "invoice.paid")
	require.NoError(t, err)
	cancel()
	require.NoError(t, admission.Release(ctx))
	assert.Equal(t, int64(0), countEvents(t, conn))

	retry, err := dedup.Admit(context.Background(), "evt_1", "invoice.paid")
	require.NoError(t, err)
	assert.False(t, retry.Duplicate())
}

func TestReleaseAfterCommitKeepsRecord(t *testing.T) {
	conn := newTestDB(t)
	dedup, err := NewDeduplicator(conn)
	require.NoError(t, err)

	admission, err := dedup.Admit(context.Background(), "evt_1", "invoice.paid")
	require.NoError(t, err)
	admission.Commit()
	require.NoError(t, admission.Release(context.Background()))
	assert.Equal(t, int64(1), countEvents(t, conn))
}

func TestReleaseOfDuplicateKeepsOriginal(t *testing.T) {
	conn := newTestDB(t)
	dedup, err := NewDeduplicator(conn)
	require.NoError(t, err)

	_, err = dedup.Admit(context.Background(), "evt_1", "invoice.paid")
	require.NoError(t, err)
	dup, err := dedup.Admit(context.Background(), "evt_1", "invoice.paid")
	require.NoError(t, err)
	require.NoError(t, dup.Release(context.Background()))
	assert.Equal(t, int64(1), countEvents(t, conn))
}

func TestAdmitConcurrentDeliveries(t *testing.T) {
	conn := newTestDB(t)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// sqlite serializes writers; one connection keeps the race at the insert.
	sqlDB.SetMaxOpenConns(1)
	dedup, err := NewDeduplicator(conn)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		firstSeen atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admission, err := dedup.Admit(context.Background(), "evt_race", "invoice.paid")
			if err != nil {
				return
			}
			if !admission.Duplicate() {
				firstSeen.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), firstSeen.Load())
}

func TestAdmitRequiresEventID(t *testing.T) {
	dedup, err := NewDeduplicator(newTestDB(t))
	require.NoError(t, err)
	_, err = dedup.Admit(context.Background(), " ", "invoice.paid")
	assert.Error(t, err)
}

func TestPruneDeletesOldRecords(t *testing.T) {
	conn := newTestDB(t)
	dedup, err := NewDeduplicator(conn)
	require.NoError(t, err)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, conn.Create(&[]models.ProcessedEvent{
		{EventID: "evt_old", EventType: "invoice.paid", ProcessedAt: now.Add(-40 * 24 * time.Hour)},
		{EventID: "evt_new", EventType: "invoice.paid", ProcessedAt: now.Add(-time.Hour)},
	}).Error)

	deleted, err := dedup.Prune(context.Background(), now.Add(-30*24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining []models.ProcessedEvent
	require.NoError(t, conn.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "evt_new", remaining[0].EventID)
}
