package logging

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProcessingLog mirrors structured events into the processing_logs table so
// consumers can inspect retry history after the fact.
type ProcessingLog struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Operation string         `json:"operation" gorm:"index"`
	Status    string         `json:"status"`
	Metadata  datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	CreatedAt time.Time      `json:"created_at"`
}

func (ProcessingLog) TableName() string {
	return "processing_logs"
}

// ProcessingLogger writes events both to the structured logger and the store.
type ProcessingLogger struct {
	db *gorm.DB
}

func NewProcessingLogger(db *gorm.DB) *ProcessingLogger {
	return &ProcessingLogger{db: db}
}

// Log persists one processing log entry and emits the matching JSON event.
func (p *ProcessingLogger) Log(operation, status string, metadata map[string]interface{}) {
	raw, _ := json.Marshal(metadata)
	entry := ProcessingLog{
		Operation: operation,
		Status:    status,
		Metadata:  datatypes.JSON(raw),
	}
	if p.db != nil {
		if err := p.db.Create(&entry).Error; err != nil {
			EventError("processing_log_write_failed", err, logrus.Fields{"operation": operation})
		}
	}
	fields := logrus.Fields{"operation": operation, "status": status}
	for k, v := range metadata {
		fields[k] = v
	}
	Event(operation, fields)
}

// Recent returns the latest entries for an operation, newest first.
func (p *ProcessingLogger) Recent(operation string, limit int) ([]ProcessingLog, error) {
	var logs []ProcessingLog
	err := p.db.Where("operation = ?", operation).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
