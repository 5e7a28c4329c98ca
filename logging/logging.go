// Package logging provides the process-wide, leveled and named loggers used by tiny-rpc.
//
// Loggers are dragonboat ILogger instances produced by the factory installed here. Every line
// has the form
//
//	2025/01/02 15:04:05 INFO  | server          | listening on 127.0.0.1:8000
//
// All loggers share one sink, configured once by Setup.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the interface returned by GetLogger.
type Logger = logger.ILogger

// Level is a log severity. Higher values are more verbose.
type Level = logger.LogLevel

const (
	ErrorLevel = logger.ERROR
	WarnLevel  = logger.WARNING
	InfoLevel  = logger.INFO
	DebugLevel = logger.DEBUG
)

// ParseLevel converts debug, info, warn (or warning) and error to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warning", "warn":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, errors.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
}

// --------------------------------------------------------------------------
// Shared sink
// --------------------------------------------------------------------------

var (
	level  atomic.Int32
	out    atomic.Pointer[log.Logger]
	mu     sync.Mutex
	names  = map[string]struct{}{}
	closer io.Closer
)

func init() {
	level.Store(int32(InfoLevel))
	out.Store(log.New(os.Stdout, "", log.Ldate|log.Ltime))
	logger.SetLoggerFactory(createLogger)
}

// Options configures the shared sink.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// File, when set, sends output to a size-rotated log file instead of stdout.
	File string
	// MaxSizeMB is the size after which the file is rotated. Zero means 10.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept. Zero means 4.
	MaxBackups int
}

// Setup applies opts to every logger. It may be called again; a previously opened log file is
// closed.
func Setup(opts Options) error {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	var c io.Closer
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 4),
			MaxAge:     180,
			Compress:   true,
		}
		w, c = lj, lj
	}

	mu.Lock()
	if closer != nil {
		_ = closer.Close()
	}
	closer = c
	mu.Unlock()

	out.Store(log.New(w, "", log.Ldate|log.Ltime))
	SetLevel(lvl)
	return nil
}

// SetOutput redirects all loggers to w.
func SetOutput(w io.Writer) {
	out.Store(log.New(w, "", log.Ldate|log.Ltime))
}

// SetLevel changes the level of every named logger and of those created later.
func SetLevel(l Level) {
	level.Store(int32(l))
	for _, name := range Names() {
		logger.GetLogger(name).SetLevel(l)
	}
}

// CurrentLevel returns the level given to newly created loggers.
func CurrentLevel() Level {
	return Level(level.Load())
}

// Names returns the names of all loggers created so far, sorted.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	list := make([]string, 0, len(names))
	for name := range names {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// Close releases the log file opened by Setup, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}

// GetLogger returns the logger for name, creating it on first use.
func GetLogger(name string) Logger {
	return logger.GetLogger(name)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// --------------------------------------------------------------------------
// Logger factory
// --------------------------------------------------------------------------

// rpcLogger implements logger.ILogger on top of the shared sink.
type rpcLogger struct {
	name  string
	level atomic.Int32
}

// createLogger is the logger.Factory installed at init.
func createLogger(name string) logger.ILogger {
	mu.Lock()
	names[name] = struct{}{}
	mu.Unlock()

	l := &rpcLogger{name: name}
	l.level.Store(level.Load())
	return l
}

// SetLevel changes this logger only.
func (l *rpcLogger) SetLevel(lvl logger.LogLevel) {
	l.level.Store(int32(lvl))
}

func (l *rpcLogger) enabled(lvl logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= lvl
}

// Debugf, Infof, Warningf and Errorf write a line when the logger level allows it.
func (l *rpcLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.log("DEBUG", format, args...)
	}
}

func (l *rpcLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.log("INFO", format, args...)
	}
}

func (l *rpcLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.log("WARN", format, args...)
	}
}

func (l *rpcLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.log("ERROR", format, args...)
	}
}

// Panicf logs at critical level and panics.
func (l *rpcLogger) Panicf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.log("PANIC", "%s", message)
	panic(message)
}

// log formats and writes one line.
func (l *rpcLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	out.Load().Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}
