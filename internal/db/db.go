package db

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"planwise/internal/config"
	"planwise/internal/gap"
	"planwise/internal/logging"
	"planwise/internal/manualtask"
	"planwise/internal/outcome"
	"planwise/internal/reflection"
	"planwise/internal/session"
	"planwise/internal/task"
)

var DB *gorm.DB

func Init(cfg *config.Config) error {
	conn, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{})
	if err != nil {
		return err
	}
	if err := Migrate(conn); err != nil {
		return err
	}
	DB = conn
	logging.Event("database_ready", map[string]interface{}{"driver": "postgres"})
	return nil
}

// Migrate runs AutoMigrate for every model. Split out so tests can run it
// against an in-memory sqlite connection.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(&outcome.UserOutcome{}, &outcome.UserIntegration{}); err != nil {
		return err
	}
	if err := conn.AutoMigrate(&task.TaskEmbedding{}); err != nil {
		return err
	}
	if err := conn.AutoMigrate(&session.AgentSession{}, &session.ReasoningTrace{}); err != nil {
		return err
	}
	if err := conn.AutoMigrate(&reflection.Reflection{}, &reflection.ReflectionIntent{}); err != nil {
		return err
	}
	if err := conn.AutoMigrate(&manualtask.ManualTask{}); err != nil {
		return err
	}
	if err := conn.AutoMigrate(&gap.TaskRelationship{}); err != nil {
		return err
	}
	return conn.AutoMigrate(&logging.ProcessingLog{})
}
