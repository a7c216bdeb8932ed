package db

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestMigrate_CreatesAllTables(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	for _, table := range []string{
		"user_outcomes",
		"user_integrations",
		"task_embeddings",
		"agent_sessions",
		"reasoning_traces",
		"reflections",
		"reflection_intents",
		"manual_tasks",
		"task_relationships",
		"processing_logs",
	} {
		if !conn.Migrator().HasTable(table) {
			t.Errorf("table %s missing after migration", table)
		}
	}
}
