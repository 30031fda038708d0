// Package logging provides the structured logger used across the sync
// pipeline. It keeps the small Info/Debug/Warn/Error(msg, kv...) façade the
// rest of this codebase is written against, but delegates encoding, level
// filtering and sink fan-out to go.uber.org/zap instead of hand-rolling a
// line formatter.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var (
	mu     sync.RWMutex
	sugar  *zap.SugaredLogger
	atom   = zap.NewAtomicLevel()
	inited bool
)

// Options configures the process-wide logger.
type Options struct {
	Level Level
	// RollingFilePath, if set, is the rolling log sink named in spec §6.
	// Rotation is size-based; see newRollingWriter.
	RollingFilePath string
	// MaxSizeMB bounds a single rolling log file before it is rotated.
	MaxSizeMB int
	// EventLogPath, if set, receives the coarser event-log stream — the
	// "system event-log writer" collaborator from spec §6. Only Warn and
	// higher entries are written to it (auth and parse failures among
	// them); Info-level lines such as process start and stop are not
	// recorded there. Kept as a plain file
	// here since the real Windows Event Log / syslog sink is an external
	// collaborator out of this core's scope.
	EventLogPath string
}

// Init (re)configures the global logger. Safe to call once at startup;
// idempotent calls simply replace the sugared logger.
func Init(opts Options) error {
	atom.SetLevel(zapLevel(opts.Level))

	cores := []zapcore.Core{}

	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), atom))

	if opts.RollingFilePath != "" {
		w, err := newRollingWriter(opts.RollingFilePath, opts.MaxSizeMB)
		if err != nil {
			return err
		}
		jsonEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(jsonEncoder, w, atom))
	}

	if opts.EventLogPath != "" {
		w, err := newRollingWriter(opts.EventLogPath, opts.MaxSizeMB)
		if err != nil {
			return err
		}
		milestoneEncoder := zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig())
		// Milestones only: gate with a LevelEnabler that passes Warn+.
		cores = append(cores, zapcore.NewCore(milestoneEncoder, w, zap.NewAtomicLevelAt(zapcore.WarnLevel)))
	}

	core := zapcore.NewTee(cores...)
	logger := zap.New(core)

	mu.Lock()
	sugar = logger.Sugar()
	inited = true
	mu.Unlock()

	return nil
}

func get() *zap.SugaredLogger {
	mu.RLock()
	s := sugar
	ok := inited
	mu.RUnlock()
	if ok {
		return s
	}
	// Fallback: a bare console logger, so packages can log before Init runs
	// (e.g. during flag/config parsing failures).
	_ = Init(Options{Level: LevelInfo})
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func SetLevel(l Level) {
	atom.SetLevel(zapLevel(l))
}

func zapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func Debug(msg string, kv ...any) { get().Debugw(msg, kv...) }
func Info(msg string, kv ...any)  { get().Infow(msg, kv...) }
func Warn(msg string, kv ...any)  { get().Warnw(msg, kv...) }

func Error(msg string, err error, kv ...any) {
	extended := append([]any{"err", err}, kv...)
	get().Errorw(msg, extended...)
}

// Sync flushes any buffered log entries. Call during shutdown.
func Sync() {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if s != nil {
		_ = s.Sync()
	}
}
