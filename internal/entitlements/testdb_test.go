package entitlements

import (
	"testing"

	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:entitlements_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.FeatureEntitlement{}, &models.Subscription{}); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}
