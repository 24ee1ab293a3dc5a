package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// LevelEnvVar overrides the default level when no flag is given.
const LevelEnvVar = "LOG_LEVEL"

func newFormatter() logrus.Formatter {
	return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"}
}

// New creates the process logger writing to out at the given level.
// An unknown level falls back to info with a warning.
func New(levelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(newFormatter())
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelStr, err)
	} else {
		log.SetLevel(level)
	}
	return log
}

// ResolveLevel picks the flag value when set, then LOG_LEVEL, then "info".
func ResolveLevel(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(LevelEnvVar)); env != "" {
		return strings.ToLower(env)
	}
	return "info"
}

// RunLog is the logging sink owned by a single site run. It writes to the base
// logger's output and, when a directory is given, to logs/<site>_<timestamp>.log.
type RunLog struct {
	Entry *logrus.Entry
	Path  string
	file  *os.File
}

// NewRunLogger creates a run-scoped sink. An empty dir disables the log file.
func NewRunLogger(base *logrus.Logger, dir, site string, now time.Time) (*RunLog, error) {
	if dir == "" {
		return &RunLog{Entry: base.WithField("site", site)}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create log dir '%s': %w", utils.ErrFilesystem, dir, err)
	}
	name := fmt.Sprintf("%s_%s.log", utils.SanitizeFilename(site), now.Format("20060102_150405"))
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open log file '%s': %w", utils.ErrFilesystem, path, err)
	}

	logger := logrus.New()
	logger.SetFormatter(base.Formatter)
	logger.SetLevel(base.GetLevel())
	logger.SetOutput(io.MultiWriter(base.Out, file))

	return &RunLog{
		Entry: logger.WithField("site", site),
		Path:  path,
		file:  file,
	}, nil
}

// Close flushes and closes the log file, if any.
func (r *RunLog) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Discard returns an entry that drops everything; handy for tests and library callers.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
