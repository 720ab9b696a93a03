// Package logger writes structured JSON log lines with PII redaction.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a LOG_LEVEL value to a Level. Unknown values give INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger emits one JSON object per line. Fields are passed as alternating
// key/value pairs.
type Logger struct {
	mu        sync.Mutex
	out       io.Writer
	level     Level
	redactPII bool
	component string
}

var defaultLogger = &Logger{out: os.Stderr, level: INFO, redactPII: true}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) {
	defaultLogger.mu.Lock()
	defaultLogger.level = l
	defaultLogger.mu.Unlock()
}

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactPII = r
	defaultLogger.mu.Unlock()
}

// SetOutput redirects the default logger. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.mu.Unlock()
}

// Named returns a logger that shares the default sink and tags every line
// with a component field.
func Named(component string) *Logger {
	return &Logger{component: component}
}

func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }
func Info(msg string, fields ...interface{})  { defaultLogger.log(INFO, msg, fields...) }
func Warn(msg string, fields ...interface{})  { defaultLogger.log(WARN, msg, fields...) }
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) Debug(msg string, fields ...interface{}) { l.named(DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.named(INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.named(WARN, msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.named(ERROR, msg, fields) }

func (l *Logger) named(level Level, msg string, fields []interface{}) {
	if l == defaultLogger {
		l.log(level, msg, fields...)
		return
	}
	defaultLogger.log(level, msg, append([]interface{}{"component", l.component}, fields...)...)
}

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		var val string
		if err, ok := fields[i+1].(error); ok && err != nil {
			val = err.Error()
		} else {
			val = fmt.Sprintf("%v", fields[i+1])
		}
		if l.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	fmt.Fprintln(l.out, string(data))
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || key == "to" || strings.Contains(key, "recipient") {
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
