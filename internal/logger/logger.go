package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

type levelStyle struct {
	name     string
	level    *color.Color
	category *color.Color
}

var styles = map[LogLevel]levelStyle{
	DEBUG: {"DEBUG", color.New(color.FgCyan), color.New(color.FgCyan, color.Bold)},
	INFO:  {"INFO", color.New(color.FgGreen), color.New(color.FgGreen, color.Bold)},
	WARN:  {"WARN", color.New(color.FgYellow), color.New(color.FgYellow, color.Bold)},
	ERROR: {"ERROR", color.New(color.FgRed), color.New(color.FgRed, color.Bold)},
	FATAL: {"FATAL", color.New(color.FgRed, color.Bold), color.New(color.FgRed, color.Bold)},
}

func (l LogLevel) String() string {
	if s, ok := styles[l]; ok {
		return s.name
	}
	return "INFO"
}

// ParseLevel maps a LOG_LEVEL value to a level. Unknown values mean INFO.
func ParseLevel(s string) LogLevel {
	for level, style := range styles {
		if strings.EqualFold(s, style.name) {
			return level
		}
	}
	return INFO
}

// Entry is one line of the JSON log file.
type Entry struct {
	Time     time.Time `json:"time"`
	Level    string    `json:"level"`
	Category string    `json:"category"`
	Message  string    `json:"message"`
	Caller   string    `json:"caller,omitempty"`
}

type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	colored  bool
	minLevel LogLevel

	dir     string
	day     string
	file    *os.File
	nowFunc func() time.Time
}

// New logs colored lines to stdout and JSON lines to <dir>/seat-holds-<date>.log.
// The file is reopened when the date changes. An empty dir disables the file.
func New(dir string, minLevel LogLevel) (*Logger, error) {
	l := &Logger{
		out:      os.Stdout,
		colored:  true,
		minLevel: minLevel,
		dir:      dir,
		nowFunc:  time.Now,
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
		if err := l.rotate(l.nowFunc()); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// NewConsoleLogger logs every level to w only, without colors and without a log file.
func NewConsoleLogger(w io.Writer) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{out: w, minLevel: DEBUG, nowFunc: time.Now}
}

// rotate opens the file for now's date. Callers hold mu, or own l exclusively.
func (l *Logger) rotate(now time.Time) error {
	day := now.UTC().Format("2006-01-02")
	if l.file != nil && day == l.day {
		return nil
	}
	name := filepath.Join(l.dir, fmt.Sprintf("seat-holds-%s.log", day))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", name, err)
	}
	if l.file != nil {
		l.file.Close()
	}
	l.file, l.day = f, day
	return nil
}

func (l *Logger) log(level LogLevel, category, message string) {
	if level < l.minLevel {
		return
	}

	entry := Entry{
		Time:     l.nowFunc().UTC(),
		Level:    level.String(),
		Category: strings.ToUpper(category),
		Message:  message,
	}
	// 0 is log, 1 the public method, 2 its caller
	if _, file, line, ok := runtime.Caller(2); ok {
		entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprint(l.out, l.terminalLine(level, entry))

	if l.dir == "" {
		return
	}
	if err := l.rotate(entry.Time); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return
	}
	if b, err := json.Marshal(entry); err == nil {
		l.file.Write(append(b, '\n'))
	}
}

func (l *Logger) terminalLine(level LogLevel, entry Entry) string {
	clock := entry.Time.Format("15:04:05")
	caller := ""

	if !l.colored {
		if entry.Caller != "" {
			caller = fmt.Sprintf(" (%s)", entry.Caller)
		}
		return fmt.Sprintf("%s %-5s [%-10s] %s%s\n", clock, entry.Level, entry.Category, entry.Message, caller)
	}

	style, ok := styles[level]
	if !ok {
		style = styles[INFO]
	}
	if entry.Caller != "" {
		caller = color.New(color.FgMagenta).Sprintf(" (%s)", entry.Caller)
	}
	return fmt.Sprintf("%s %s %s %s%s\n",
		color.New(color.FgBlue).Sprint(clock),
		style.level.Sprintf("%-5s", entry.Level),
		style.category.Sprintf("[%-10s]", entry.Category),
		entry.Message,
		caller,
	)
}

func (l *Logger) Debug(category, message string) { l.log(DEBUG, category, message) }
func (l *Logger) Info(category, message string) { l.log(INFO, category, message) }
func (l *Logger) Warn(category, message string) { l.log(WARN, category, message) }
func (l *Logger) Error(category, message string) { l.log(ERROR, category, message) }

func (l *Logger) Fatal(category, message string) {
	l.log(FATAL, category, message)
	l.Close()
	os.Exit(1)
}

// Component helpers. Each fixes the category and the message layout.

func (l *Logger) LogHold(action, eventID, sessionID, message string) {
	l.log(INFO, "HOLD", fmt.Sprintf("[%s] event=%s session=%s - %s", action, eventID, sessionID, message))
}

func (l *Logger) LogLease(action, key, message string) {
	l.log(DEBUG, "LEASE", fmt.Sprintf("[%s] %s - %s", action, key, message))
}

func (l *Logger) LogAPI(method, path, status, duration string) {
	l.log(INFO, "API", fmt.Sprintf("%s %s - %s (%s)", method, path, status, duration))
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.log(INFO, "KAFKA", fmt.Sprintf("[%s] %s - %s", action, topic, message))
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.log(INFO, "DATABASE", fmt.Sprintf("[%s] %s - %s", operation, table, message))
}

func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.dir = ""
}
