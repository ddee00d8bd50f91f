package db

import (
	"testing"

	"github.com/friendsincode/plugin_update_helper/internal/config"
	"github.com/friendsincode/plugin_update_helper/internal/models"
)

func TestConnectAndMigrateSQLite(t *testing.T) {
	database, err := Connect(&config.Config{DBBackend: config.DatabaseSQLite, DBDSN: ":memory:"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = Close(database) })

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []any{&models.Option{}, &models.AuditLog{}} {
		if !database.Migrator().HasTable(table) {
			t.Fatalf("table for %T missing after migrate", table)
		}
	}

	if err := database.Create(&models.Option{Name: "probe", Value: "1"}).Error; err != nil {
		t.Fatalf("insert option: %v", err)
	}
	UpdateConnectionMetrics(database)
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	if _, err := Connect(&config.Config{DBBackend: "oracle"}); err == nil {
		t.Fatal("expected unknown backend to fail")
	}
}
