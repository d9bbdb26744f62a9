package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger levels
const (
	DEBUG = iota
	INFO
	WARN
	ERROR
	FATAL
)

var (
	globalLogger *Logger
	globalMu     sync.Mutex

	defaultLogDir  = ".uimap/logs"
	defaultLogFile = "uimap.log"
	maxLogSize     = int64(10 * 1024 * 1024) // 10MB
	maxBackups     = 5
)

// Logger writes leveled lines to a rotating file. Before Initialize is
// called, WARN and above go to stderr and everything else is dropped.
type Logger struct {
	mu          sync.Mutex
	file        *os.File
	logger      *log.Logger
	fallback    *log.Logger
	level       int
	logPath     string
	maxSize     int64
	currentSize int64
}

func newLogger() *Logger {
	return &Logger{
		level:    INFO,
		maxSize:  maxLogSize,
		fallback: log.New(os.Stderr, "uimap: ", 0),
	}
}

// Initialize opens the log file under projectDir/.uimap/logs
func Initialize(projectDir string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	l := newLogger()
	if globalLogger != nil {
		l.level = globalLogger.level
		globalLogger.Close()
	}
	globalLogger = l

	logDir := filepath.Join(projectDir, defaultLogDir)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	l.logPath = filepath.Join(logDir, defaultLogFile)
	return l.openLogFile()
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = newLogger()
	}
	return globalLogger
}

func (l *Logger) openLogFile() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if info, err := file.Stat(); err == nil {
		l.currentSize = info.Size()
	}
	l.file = file
	l.logger = log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	return nil
}

func (l *Logger) rotateIfNeeded() error {
	if l.currentSize < l.maxSize || l.file == nil {
		return nil
	}
	l.file.Close()

	timestamp := time.Now().Format("20060102-150405")
	rotatedPath := filepath.Join(filepath.Dir(l.logPath), fmt.Sprintf("uimap-%s.log", timestamp))
	if err := os.Rename(l.logPath, rotatedPath); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if err := l.openLogFile(); err != nil {
		return err
	}
	go pruneBackups(filepath.Dir(l.logPath))
	return nil
}

// pruneBackups keeps the newest maxBackups rotated files
func pruneBackups(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var rotated []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && name != defaultLogFile && strings.HasPrefix(name, "uimap-") && filepath.Ext(name) == ".log" {
			rotated = append(rotated, name)
		}
	}
	if len(rotated) <= maxBackups {
		return
	}
	sort.Strings(rotated)
	for _, name := range rotated[:len(rotated)-maxBackups] {
		os.Remove(filepath.Join(dir, name))
	}
}

func (l *Logger) write(level int, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}
	msg := fmt.Sprintf("[%s] %s", levelString(level), fmt.Sprintf(format, v...))

	if l.logger == nil {
		if level >= WARN {
			l.fallback.Output(3, msg)
		}
		return
	}

	l.rotateIfNeeded()
	l.logger.Output(3, msg)
	l.currentSize += int64(len(msg)) + 1
}

func levelString(level int) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to its constant, defaulting to INFO
func ParseLevel(name string) int {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func (l *Logger) Debug(format string, v ...interface{}) { l.write(DEBUG, format, v...) }
func (l *Logger) Info(format string, v ...interface{})  { l.write(INFO, format, v...) }
func (l *Logger) Warn(format string, v ...interface{})  { l.write(WARN, format, v...) }
func (l *Logger) Error(format string, v ...interface{}) { l.write(ERROR, format, v...) }

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.write(FATAL, format, v...)
	os.Exit(1)
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Close closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.logger = nil
	return err
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	return l.logPath
}

func Debug(format string, v ...interface{}) { GetLogger().Debug(format, v...) }
func Info(format string, v ...interface{})  { GetLogger().Info(format, v...) }
func Warn(format string, v ...interface{})  { GetLogger().Warn(format, v...) }
func Error(format string, v ...interface{}) { GetLogger().Error(format, v...) }
func Fatal(format string, v ...interface{}) { GetLogger().Fatal(format, v...) }

// KV renders key/value pairs as " k=v k2=v2" for appending to a message.
// Values containing spaces are quoted.
func KV(pairs ...interface{}) string {
	var b strings.Builder
	for i := 0; i < len(pairs); i += 2 {
		key := fmt.Sprint(pairs[i])
		val := "<missing>"
		if i+1 < len(pairs) {
			val = fmt.Sprint(pairs[i+1])
		}
		if strings.ContainsAny(val, " \t\"=") {
			val = fmt.Sprintf("%q", val)
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(val)
	}
	return b.String()
}

// Writer returns an io.Writer that logs each write at INFO
func Writer() io.Writer {
	return logWriter{}
}

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	GetLogger().Info("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// RedirectStandardLog sends the standard log package through this logger
func RedirectStandardLog() {
	log.SetOutput(Writer())
	log.SetFlags(0)
}
