package downloader

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Format names the container and compression of an artifact.
type Format string

const (
	FormatAuto  Format = "auto"
	FormatRaw   Format = "raw"
	FormatTar   Format = "tar"
	FormatTarGz Format = "tar.gz"
	FormatLZ4   Format = "tar.lz4"
	FormatZstd  Format = "tar.zst"
	FormatBzip2 Format = "tar.bz2"
)

var errUnknownFormat = errors.New("unknown artifact format")

// suffixes maps file name endings to formats; longer endings come first.
var suffixes = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTarGz},
	{".tgz", FormatTarGz},
	{".tar.lz4", FormatLZ4},
	{".tar.zst", FormatZstd},
	{".tar.zstd", FormatZstd},
	{".tzst", FormatZstd},
	{".tar.bz2", FormatBzip2},
	{".tbz2", FormatBzip2},
	{".tar", FormatTar},
}

// DetectFormat derives the format from the path of rawURL. Unknown endings are raw.
func DetectFormat(rawURL string) Format {
	name := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		name = parsed.Path
	}

	name = strings.ToLower(path.Base(name))

	for _, s := range suffixes {
		if strings.HasSuffix(name, s.suffix) {
			return s.format
		}
	}

	return FormatRaw
}

// ResolveFormat returns the explicit format, or the detected one for auto.
func ResolveFormat(format, rawURL string) (Format, error) {
	switch f := Format(format); f {
	case "", FormatAuto:
		return DetectFormat(rawURL), nil
	case FormatRaw, FormatTar, FormatTarGz, FormatLZ4, FormatZstd, FormatBzip2:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownFormat, format)
	}
}

// IsTar reports whether the format carries a tar stream.
func (f Format) IsTar() bool {
	return f != FormatRaw && f != FormatAuto
}

// decompress wraps r with the decoder for f. The returned closer releases decoder resources.
func decompress(r io.Reader, f Format) (io.Reader, func(), error) {
	noop := func() {}

	switch f {
	case FormatRaw, FormatTar:
		return r, noop, nil
	case FormatTarGz:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("open gzip stream: %w", err)
		}

		return gz, func() { _ = gz.Close() }, nil
	case FormatLZ4:
		return lz4.NewReader(r), noop, nil
	case FormatZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("open zstd stream: %w", err)
		}

		return dec, dec.Close, nil
	case FormatBzip2:
		return bzip2.NewReader(r), noop, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q", errUnknownFormat, f)
	}
}
