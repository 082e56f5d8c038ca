package db

import (
	"testing"

	"github.com/friendsincode/chronograph/internal/config"
	"github.com/friendsincode/chronograph/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

func TestMigrateSeedsStreamCapacities(t *testing.T) {
	database, err := Open(sqlite.Open(":memory:"), logger.Silent)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, _ := database.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := RegisterCallbacks(database); err != nil {
		t.Fatalf("callbacks: %v", err)
	}
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// An operator override must survive a second migration.
	if err := database.Model(&models.StreamCapacity{}).Where(&models.StreamCapacity{Key: models.StreamsClassic}).Update("value", 3).Error; err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := Migrate(database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var rows []models.StreamCapacity
	if err := database.Find(&rows).Error; err != nil {
		t.Fatalf("list: %v", err)
	}
	got := map[string]int{}
	for _, r := range rows {
		got[r.Key] = r.Value
	}
	want := map[string]int{"streams": 3, "dutch_streams": 15, "texas_streams": 20}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %d, want %d", k, got[k], v)
		}
	}
}

func TestDialectorRejectsUnknownBackend(t *testing.T) {
	if _, err := Dialector(config.DatabaseBackend("oracle"), "dsn"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	for _, b := range []config.DatabaseBackend{config.DatabasePostgres, config.DatabaseMySQL, config.DatabaseSQLite} {
		if _, err := Dialector(b, "dsn"); err != nil {
			t.Errorf("%s: %v", b, err)
		}
	}
}
