package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProductionLogger is the default Logger implementation for the gateway.
//
// Configuration priority:
//  1. Explicit setters (highest)
//  2. Environment variables (RCC_LOG_LEVEL, RCC_LOG_FORMAT, RCC_DEBUG)
//  3. Auto-detection (JSON format inside Kubernetes)
//  4. Defaults (lowest)
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	format      string
	output      io.Writer
	mu          sync.RWMutex

	// Rate limiting to prevent log flooding during upstream failures
	errorLimiter *logRateLimiter
}

// NewProductionLogger creates a logger for gateway operations
func NewProductionLogger(serviceName string) *ProductionLogger {
	level := os.Getenv("RCC_LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}

	debug := os.Getenv("RCC_DEBUG") == "true" || strings.ToUpper(level) == "DEBUG"

	// JSON in K8s for log aggregation, text for local dev
	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if envFormat := os.Getenv("RCC_LOG_FORMAT"); envFormat != "" {
		format = envFormat
	}

	return &ProductionLogger{
		level:        strings.ToUpper(level),
		debug:        debug,
		serviceName:  serviceName,
		format:       format,
		output:       os.Stdout,
		errorLimiter: newLogRateLimiter(time.Second),
	}
}

// Info logs informational messages
func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

// Warn logs warning messages
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

// Error logs error messages with rate limiting
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

// Debug logs debug messages (only when debug mode is enabled)
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.shouldLog(level) {
		return
	}

	timestamp := time.Now().Format(time.RFC3339)

	if l.format == "json" {
		l.logJSON(timestamp, level, msg, fields)
	} else {
		l.logText(timestamp, level, msg, fields)
	}
}

func (l *ProductionLogger) logJSON(timestamp, level, msg string, fields map[string]interface{}) {
	logEntry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level,
		"service":   l.serviceName,
		"message":   msg,
	}

	for k, v := range fields {
		if k != "timestamp" && k != "level" && k != "service" && k != "message" {
			logEntry[k] = v
		}
	}

	if data, err := json.Marshal(logEntry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *ProductionLogger) logText(timestamp, level, msg string, fields map[string]interface{}) {
	var fieldStr strings.Builder
	if len(fields) > 0 {
		fieldStr.WriteString(" ")
		// Surface correlation fields first for readability
		if id, ok := fields["request_id"]; ok {
			fieldStr.WriteString(fmt.Sprintf("request_id=%v ", id))
		}
		if err, ok := fields["error"]; ok {
			fieldStr.WriteString(fmt.Sprintf("error=\"%v\" ", err))
		}
		for k, v := range fields {
			if k == "request_id" || k == "error" {
				continue
			}
			fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
		}
	}

	fmt.Fprintf(l.output, "%s [%s] [%s] %s%s\n",
		timestamp, level, l.serviceName, msg, fieldStr.String())
}

func (l *ProductionLogger) shouldLog(level string) bool {
	levels := map[string]int{
		"DEBUG": 0,
		"INFO":  1,
		"WARN":  2,
		"ERROR": 3,
	}

	currentLevel, ok1 := levels[l.level]
	messageLevel, ok2 := levels[level]
	if !ok1 || !ok2 {
		return true
	}

	return messageLevel >= currentLevel
}

// SetLevel dynamically updates the log level
func (l *ProductionLogger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = strings.ToUpper(level)
	l.debug = l.level == "DEBUG"
}

// SetOutput changes the output writer (useful for testing)
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// logRateLimiter allows at most one event per interval
type logRateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newLogRateLimiter(interval time.Duration) *logRateLimiter {
	return &logRateLimiter{interval: interval}
}

// Allow reports whether an event may proceed now
func (r *logRateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.last) < r.interval {
		return false
	}
	r.last = now
	return true
}
