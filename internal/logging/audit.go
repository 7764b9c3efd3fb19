package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	AuditTurnStart         AuditEventType = "turn_start"
	AuditTurnEnd           AuditEventType = "turn_end"
	AuditLLMRequest        AuditEventType = "llm_request"
	AuditLLMResponse       AuditEventType = "llm_response"
	AuditLLMError          AuditEventType = "llm_error"
	AuditAnswerFormatError AuditEventType = "answer_format_error"
	AuditCommandError      AuditEventType = "command_error"
	AuditHostFatal         AuditEventType = "host_fatal"
)

// AuditEvent is one structured audit log entry, written as a JSON line.
type AuditEvent struct {
	EventType      AuditEventType
	ConversationID string
	CycleID        string
	Attempt        int
	Success        bool
	Duration       time.Duration
	Answer         string // raw model answer, when relevant
	Command        string // failing command, when relevant
	Error          string
	Message        string
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditMu     sync.Mutex
	auditFile   *os.File
	auditCore   *zap.Logger
	auditLogger = &AuditLogger{}
)

// AuditLogger writes audit events, optionally scoped to a conversation.
type AuditLogger struct {
	conversationID string
}

// InitAudit opens (appending) the audit log at path.
func InitAudit(path string) error {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "msg"
	encCfg.LevelKey = ""
	encCfg.EncodeTime = zapcore.EpochMillisTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), zapcore.DebugLevel)

	auditFile = file
	auditCore = zap.New(core)
	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditCore != nil {
		_ = auditCore.Sync()
		auditCore = nil
	}
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	return auditLogger
}

// AuditWithConversation creates an audit logger scoped to a conversation
func AuditWithConversation(conversationID string) *AuditLogger {
	return &AuditLogger{conversationID: conversationID}
}

// Log writes an audit event. A no-op until InitAudit has been called.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditCore == nil {
		return
	}

	if event.ConversationID == "" {
		event.ConversationID = a.conversationID
	}
	fields := []zap.Field{
		zap.String("event", string(event.EventType)),
		zap.String("conversation", event.ConversationID),
		zap.Bool("success", event.Success),
	}
	if event.CycleID != "" {
		fields = append(fields, zap.String("cycle", event.CycleID))
	}
	if event.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", event.Attempt))
	}
	if event.Duration > 0 {
		fields = append(fields, zap.Int64("dur_ms", event.Duration.Milliseconds()))
	}
	if event.Answer != "" {
		fields = append(fields, zap.String("answer", event.Answer))
	}
	if event.Command != "" {
		fields = append(fields, zap.String("command", event.Command))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	auditCore.Info(event.Message, fields...)
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// TurnStart logs the start of a turn
func (a *AuditLogger) TurnStart(cycleID, request string) {
	a.Log(AuditEvent{
		EventType: AuditTurnStart,
		CycleID:   cycleID,
		Success:   true,
		Message:   request,
	})
}

// TurnEnd logs the end of a turn
func (a *AuditLogger) TurnEnd(cycleID string, responded bool, calls int, d time.Duration) {
	a.Log(AuditEvent{
		EventType: AuditTurnEnd,
		CycleID:   cycleID,
		Attempt:   calls,
		Success:   responded,
		Duration:  d,
		Message:   fmt.Sprintf("turn finished after %d llm calls (responded=%v)", calls, responded),
	})
}

// LLMCall logs one model invocation and its outcome.
func (a *AuditLogger) LLMCall(cycleID string, attempt int, answer string, d time.Duration, err error) {
	event := AuditEvent{
		EventType: AuditLLMResponse,
		CycleID:   cycleID,
		Attempt:   attempt,
		Success:   err == nil,
		Duration:  d,
		Answer:    answer,
	}
	if err != nil {
		event.EventType = AuditLLMError
		event.Error = err.Error()
	}
	a.Log(event)
}

// AnswerFormatError logs a model answer that could not be split into thinking and commands.
func (a *AuditLogger) AnswerFormatError(cycleID string, attempt int, answer string, err error) {
	a.Log(AuditEvent{
		EventType: AuditAnswerFormatError,
		CycleID:   cycleID,
		Attempt:   attempt,
		Answer:    answer,
		Error:     err.Error(),
	})
}

// CommandError logs a statement that ended its batch with an error.
func (a *AuditLogger) CommandError(cycleID string, attempt int, command, text string) {
	a.Log(AuditEvent{
		EventType: AuditCommandError,
		CycleID:   cycleID,
		Attempt:   attempt,
		Command:   command,
		Error:     text,
	})
}

// HostFatal logs an error that aborted the turn.
func (a *AuditLogger) HostFatal(cycleID string, err error) {
	a.Log(AuditEvent{
		EventType: AuditHostFatal,
		CycleID:   cycleID,
		Error:     err.Error(),
	})
}
