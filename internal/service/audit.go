package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/logger"
	"github.com/raaihank/phi-guard/internal/privacy"
)

// AuditAction names what happened to a piece of text
type AuditAction string

const (
	AuditRedaction        AuditAction = "phi_redaction"
	AuditReidentification AuditAction = "reidentification"
)

// AuditEvent summarizes one operation. It carries counts only, never values.
type AuditEvent struct {
	Action    AuditAction              `json:"action"`
	TenantID  string                   `json:"tenant_id"`
	SessionID string                   `json:"session_id"`
	MappingID string                   `json:"mapping_id,omitempty"`
	Counts    map[privacy.Category]int `json:"counts"`
	Total     int                      `json:"total"`
	Persisted bool                     `json:"persisted"`
	Timestamp time.Time                `json:"timestamp"`
}

// AuditSink receives audit events. Record must not block.
type AuditSink interface {
	Record(event AuditEvent)
}

// LogSink writes audit events to the structured log
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a sink that logs at info level
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log.WithComponent("audit")}
}

// Record logs the event
func (s *LogSink) Record(event AuditEvent) {
	s.logger.Info("PHI audit",
		zap.String("action", string(event.Action)),
		zap.String("tenant_id", event.TenantID),
		zap.String("session_id", event.SessionID),
		zap.String("mapping_id", event.MappingID),
		zap.Any("counts", event.Counts),
		zap.Int("total", event.Total),
		zap.Bool("persisted", event.Persisted),
	)
}

// MultiSink fans an event out to several sinks
type MultiSink []AuditSink

// Record forwards the event to every sink
func (m MultiSink) Record(event AuditEvent) {
	for _, sink := range m {
		if sink != nil {
			sink.Record(event)
		}
	}
}

type nopSink struct{}

func (nopSink) Record(AuditEvent) {}
