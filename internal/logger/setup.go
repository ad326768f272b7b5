package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

const (
	// logFilePattern names rotated files; rotatelogs appends a generation on size rollover.
	logFilePattern = "pipe-updater-%Y%m%d.log"
	// currentLogLink always points at the file being written.
	currentLogLink = "pipe-updater.log"

	logDirPermissions = 0o755
)

var errInvalidLogDir = errors.New("invalid log path")

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Options configure Setup.
type Options struct {
	// Level is parsed with ParseLogLevel; unknown values fall back to info.
	Level string
	// Dir enables file logging when set.
	Dir string
	// MaxSize is the size in bytes after which the current file is rotated.
	MaxSize int64
	// MaxFiles is how many rotated files are kept.
	MaxFiles uint
}

// Setup configures the global logger. Output always goes to stdout; with a
// directory configured it is duplicated into rotated files there. The returned
// closer releases the file handle.
func Setup(opts Options) (io.Closer, error) {
	level, ok := ParseLogLevel(opts.Level)
	SetLevel(level)

	if opts.Dir == "" {
		SetLogger(New(defaultLevel))

		if !ok && opts.Level != "" {
			Logger().Warnf("Unknown log level %q, using %s", opts.Level, level)
		}

		return nopCloser{}, nil
	}

	if err := os.MkdirAll(opts.Dir, logDirPermissions); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidLogDir, err)
	}

	rotateOptions := []rotatelogs.Option{
		rotatelogs.WithLinkName(filepath.Join(opts.Dir, currentLogLink)),
	}

	if opts.MaxSize > 0 {
		rotateOptions = append(rotateOptions, rotatelogs.WithRotationSize(opts.MaxSize))
	}

	if opts.MaxFiles > 0 {
		rotateOptions = append(rotateOptions, rotatelogs.WithRotationCount(opts.MaxFiles))
	}

	files, err := rotatelogs.New(filepath.Join(opts.Dir, logFilePattern), rotateOptions...)
	if err != nil {
		return nil, fmt.Errorf("open log files: %w", err)
	}

	SetLogger(New(defaultLevel, os.Stdout, files))

	if !ok && opts.Level != "" {
		Logger().Warnf("Unknown log level %q, using %s", opts.Level, level)
	}

	return files, nil
}
