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
	"unicode"
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

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger provides structured JSON logging with optional PII redaction.
type Logger struct {
	level     Level
	mu        sync.Mutex
	redactPII bool
	out       io.Writer
}

var defaultLogger = &Logger{level: INFO, redactPII: true, out: os.Stderr}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level = l }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { defaultLogger.redactPII = r }

// SetOutput redirects the default logger. Used by tests.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.mu.Unlock()
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
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
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

var (
	emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	ssnRegex   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "email"):
		return RedactEmail(val)
	case hasKeyPart(key, "ssn"), hasKeyPart(key, "ein"), strings.Contains(key, "phone"):
		return RedactDigits(val)
	}
	val = ssnRegex.ReplaceAllString(val, "***-**-****")
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}

// hasKeyPart reports whether part is a whole segment of a key delimited by
// anything other than letters and digits, so "merchant_ein" matches "ein"
// and "protein" does not.
func hasKeyPart(key, part string) bool {
	for _, seg := range strings.FieldsFunc(key, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if seg == part {
			return true
		}
	}
	return false
}
