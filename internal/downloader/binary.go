package downloader

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/scx1332/pipe-updater/internal/logger"
	"github.com/scx1332/pipe-updater/internal/progress"

	// Register SHA512 for checksum verification.
	_ "crypto/sha512"
)

// BinaryMode is the mode of a replaced executable.
const BinaryMode os.FileMode = 0o755

// ChecksumFunction verifies binary artifacts.
const ChecksumFunction = crypto.SHA512

var errHashUnavailable = errors.New("hash function unavailable")

// BinarySink stages the stream in a temporary file and atomically replaces Path.
type BinarySink struct {
	// Path is the executable to replace.
	Path string
	// Checksum is the expected SHA-512 digest; empty skips verification.
	Checksum []byte
}

// Consume implements Sink.
func (s *BinarySink) Consume(ctx context.Context, r io.Reader, tracker *progress.Tracker) error {
	if !ChecksumFunction.Available() {
		return errHashUnavailable
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	staged, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".download-*")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}

	defer func() {
		_ = staged.Close()
		_ = os.Remove(staged.Name())
	}()

	if _, err = io.Copy(&countingWriter{w: staged, tracker: tracker}, r); err != nil {
		return fmt.Errorf("stage %s: %w", s.Path, err)
	}

	if _, err = staged.Seek(0, io.SeekStart); err != nil {
		return err
	}

	created := false

	if _, err = os.Stat(s.Path); errors.Is(err, os.ErrNotExist) {
		var placeholder *os.File

		placeholder, err = os.Create(s.Path)
		if err != nil {
			return err
		}

		_ = placeholder.Close()
		created = true
	}

	logger.InfoKV(ctx, "Applying binary update", "path", s.Path)

	var checksum []byte
	if len(s.Checksum) > 0 {
		checksum = s.Checksum
	}

	err = goupdate.Apply(staged, goupdate.Options{
		TargetPath: s.Path,
		TargetMode: BinaryMode,
		Checksum:   checksum,
		Hash:       ChecksumFunction,
	})
	if err != nil {
		if rerr := goupdate.RollbackError(err); rerr != nil {
			logger.ErrorKV(ctx, "Rollback after failed update failed", "path", s.Path, "error", rerr)
		}

		// A failed first install must not leave an empty file behind.
		if created {
			_ = os.Remove(s.Path)
		}

		return fmt.Errorf("apply %s: %w", s.Path, err)
	}

	oldPath := filepath.Join(dir, "."+filepath.Base(s.Path)+".old")
	if _, err = os.Stat(oldPath); err == nil {
		_ = os.Remove(oldPath)
	}

	return nil
}
