// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package logger

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger provides structured JSON logging correlated by account and job.
type Logger struct {
	Component  string
	InstanceID string
	Container  string
}

// LogEntry is one structured log line. AccountID and JobID are the
// correlation keys used to trace a billing dispute across services.
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Container  string                 `json:"container"`
	AccountID  string                 `json:"account_id"`
	JobID      string                 `json:"job_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for the specified component.
func New(component string) *Logger {
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
	}
}

// Log writes a structured entry to stdout.
func (l *Logger) Log(level LogLevel, accountID, jobID, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		AccountID:  accountID,
		JobID:      jobID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	log.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(accountID, jobID, message string, fields map[string]interface{}) {
	l.Log(INFO, accountID, jobID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(accountID, jobID, message string, fields map[string]interface{}) {
	l.Log(ERROR, accountID, jobID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(accountID, jobID, message string, fields map[string]interface{}) {
	l.Log(WARN, accountID, jobID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(accountID, jobID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, accountID, jobID, message, fields)
}

// InfoWithDuration logs an info message with a duration field
func (l *Logger) InfoWithDuration(accountID, jobID, message string, durationMS float64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Info(accountID, jobID, message, fields)
}

// ErrorWithAmount logs an error carrying the cents amount in dispute.
func (l *Logger) ErrorWithAmount(accountID, jobID, message string, amountCents int64, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["amount_cents"] = amountCents
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(accountID, jobID, message, fields)
}
