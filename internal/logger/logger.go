package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	mu          sync.RWMutex
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	debugLogger *log.Logger
	logFile     *os.File
	debugMode   bool
)

// Init opens a dated log file under logsDir. In debug mode output is also
// copied to stderr and Debug lines are written.
func Init(logsDir string, debug bool) error {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}
	logPath := filepath.Join(logsDir, fmt.Sprintf("taskflow_%s.log", time.Now().Format("2006-01-02")))
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var w io.Writer = f
	if debug {
		w = io.MultiWriter(os.Stderr, f)
	}
	mu.Lock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	debugMode = debug
	setWriterLocked(w)
	mu.Unlock()

	Info("logging to %s (debug=%v)", logPath, debug)
	return nil
}

// SetOutput routes every level to w. Used by the CLI when no log dir is set
// and by tests.
func SetOutput(w io.Writer, debug bool) {
	mu.Lock()
	defer mu.Unlock()
	debugMode = debug
	setWriterLocked(w)
}

func setWriterLocked(w io.Writer) {
	flags := log.Ldate | log.Ltime | log.Lshortfile
	infoLogger = log.New(w, "[INFO] ", flags)
	warnLogger = log.New(w, "[WARN] ", flags)
	errorLogger = log.New(w, "[ERROR] ", flags)
	debugLogger = log.New(w, "[DEBUG] ", flags)
}

func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	infoLogger, warnLogger, errorLogger, debugLogger = nil, nil, nil, nil
}

// Std returns a *log.Logger writing at the given level, for components that
// take a standard logger.
func Std(level string) *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	var l *log.Logger
	switch level {
	case "warn":
		l = warnLogger
	case "error":
		l = errorLogger
	case "debug":
		l = debugLogger
	default:
		l = infoLogger
	}
	if l == nil {
		return log.New(os.Stderr, "["+level+"] ", log.LstdFlags)
	}
	return l
}

func output(l *log.Logger, prefix, format string, v ...any) {
	if l != nil {
		l.Output(3, fmt.Sprintf(format, v...))
		return
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", v...)
}

func Info(format string, v ...any) {
	mu.RLock()
	l := infoLogger
	mu.RUnlock()
	output(l, "[INFO] ", format, v...)
}

func Warn(format string, v ...any) {
	mu.RLock()
	l := warnLogger
	mu.RUnlock()
	output(l, "[WARN] ", format, v...)
}

func Error(format string, v ...any) {
	mu.RLock()
	l := errorLogger
	mu.RUnlock()
	output(l, "[ERROR] ", format, v...)
}

// Debug is dropped unless debug mode is on.
func Debug(format string, v ...any) {
	mu.RLock()
	l, on := debugLogger, debugMode
	mu.RUnlock()
	if !on {
		return
	}
	output(l, "[DEBUG] ", format, v...)
}
