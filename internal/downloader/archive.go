package downloader

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/scx1332/pipe-updater/internal/logger"
	"github.com/scx1332/pipe-updater/internal/progress"
)

const (
	defaultDirMode  os.FileMode = 0o755
	defaultFileMode os.FileMode = 0o644
)

var (
	errUnsafePath = errors.New("archive entry escapes output directory")
	errNoFileName = errors.New("cannot derive file name from url")
)

// ArchiveSink decompresses the stream and unpacks it into Dir.
type ArchiveSink struct {
	// Dir is the extraction root.
	Dir string
	// Format selects the decoder; FormatAuto detects it from URL.
	Format Format
	// URL is used for format detection and to name raw downloads.
	URL string
	// Clean removes the contents of Dir before unpacking.
	Clean bool
}

// Consume implements Sink.
func (s *ArchiveSink) Consume(ctx context.Context, r io.Reader, tracker *progress.Tracker) error {
	format, err := ResolveFormat(string(s.Format), s.URL)
	if err != nil {
		return err
	}

	if s.Clean {
		if err = cleanDir(s.Dir); err != nil {
			return fmt.Errorf("clean %s: %w", s.Dir, err)
		}
	}

	if err = os.MkdirAll(s.Dir, defaultDirMode); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	if format == FormatRaw {
		return s.writeRaw(r, tracker)
	}

	decoded, closeDecoder, err := decompress(r, format)
	if err != nil {
		return err
	}
	defer closeDecoder()

	if err = extract(ctx, s.Dir, decoded, tracker); err != nil {
		return err
	}

	// Reading the decoder to EOF verifies the gzip and zstd checksums.
	if _, err = io.Copy(io.Discard, decoded); err != nil {
		return fmt.Errorf("verify %s stream: %w", format, err)
	}

	// Compressed streams may carry padding after the tar trailer.
	if _, err = io.Copy(io.Discard, r); err != nil {
		return fmt.Errorf("drain stream: %w", err)
	}

	return nil
}

func (s *ArchiveSink) writeRaw(r io.Reader, tracker *progress.Tracker) error {
	name, err := fileNameFromURL(s.URL)
	if err != nil {
		return err
	}

	target := filepath.Join(s.Dir, name)

	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(&countingWriter{w: f, tracker: tracker}, r); err != nil {
		_ = f.Close()

		return fmt.Errorf("write %s: %w", target, err)
	}

	return f.Close()
}

// extract unpacks a tar stream into dir.
func extract(ctx context.Context, dir string, r io.Reader, tracker *progress.Tracker) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)

	for {
		if err = ctx.Err(); err != nil {
			return err
		}

		var header *tar.Header

		header, err = tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		if err = extractEntry(ctx, root, header, tr, tracker); err != nil {
			return err
		}
	}
}

func extractEntry(ctx context.Context, root string, header *tar.Header, r io.Reader, tracker *progress.Tracker) error {
	target, err := safeJoin(root, header.Name)
	if err != nil {
		return err
	}

	mode := header.FileInfo().Mode().Perm()

	switch header.Typeflag {
	case tar.TypeDir:
		if mode == 0 {
			mode = defaultDirMode
		}

		return os.MkdirAll(target, mode|0o700)
	case tar.TypeReg:
		return writeFile(target, mode, header, r, tracker)
	case tar.TypeSymlink:
		linkTarget := header.Linkname
		if !filepath.IsAbs(linkTarget) {
			linkTarget = filepath.Join(filepath.Dir(target), linkTarget)
		}

		if !within(root, filepath.Clean(linkTarget)) {
			return fmt.Errorf("%w: symlink %s -> %s", errUnsafePath, header.Name, header.Linkname)
		}

		if err = prepareParent(target); err != nil {
			return err
		}

		return os.Symlink(header.Linkname, target)
	case tar.TypeLink:
		var source string

		source, err = safeJoin(root, header.Linkname)
		if err != nil {
			return err
		}

		if err = prepareParent(target); err != nil {
			return err
		}

		return os.Link(source, target)
	default:
		logger.DebugKV(ctx, "Skipping unsupported tar entry", "name", header.Name, "type", header.Typeflag)

		return nil
	}
}

func writeFile(target string, mode os.FileMode, header *tar.Header, r io.Reader, tracker *progress.Tracker) error {
	if mode == 0 {
		mode = defaultFileMode
	}

	if err := prepareParent(target); err != nil {
		return err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(&countingWriter{w: f, tracker: tracker}, r); err != nil {
		_ = f.Close()

		return fmt.Errorf("write %s: %w", header.Name, err)
	}

	if err = f.Close(); err != nil {
		return err
	}

	// OpenFile honours the umask; restore the archived bits.
	if err = os.Chmod(target, mode); err != nil {
		return err
	}

	if !header.ModTime.IsZero() {
		_ = os.Chtimes(target, header.ModTime, header.ModTime)
	}

	return nil
}

// prepareParent creates the parent directory and removes a stale entry at target.
func prepareParent(target string) error {
	if err := os.MkdirAll(filepath.Dir(target), defaultDirMode); err != nil {
		return err
	}

	if info, err := os.Lstat(target); err == nil && !info.IsDir() {
		return os.Remove(target)
	}

	return nil
}

// safeJoin resolves name below root and rejects entries that leave it.
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || filepath.VolumeName(cleaned) != "" {
		return "", fmt.Errorf("%w: %s", errUnsafePath, name)
	}

	target := filepath.Join(root, cleaned)
	if !within(root, target) {
		return "", fmt.Errorf("%w: %s", errUnsafePath, name)
	}

	return target, nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// cleanDir removes everything inside dir but keeps dir itself.
func cleanDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err = os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}

func fileNameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("%w: %s", errNoFileName, rawURL)
	}

	return name, nil
}

// countingWriter reports written bytes as unpacked.
type countingWriter struct {
	w       io.Writer
	tracker *progress.Tracker
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.tracker.Unpacked(int64(n))
	}

	return n, err
}
