package config

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// ByteSize is a byte count written as "8 MiB" or "512kB" in YAML.
type ByteSize int64

var byteUnits = []struct {
	size ByteSize
	name string
}{
	{humanize.GiByte, "GiB"},
	{humanize.MiByte, "MiB"},
	{humanize.KiByte, "KiB"},
}

// String renders the size exactly: whole binary units when possible, bytes otherwise.
func (b ByteSize) String() string {
	if b != 0 {
		for _, unit := range byteUnits {
			if b%unit.size == 0 {
				return fmt.Sprintf("%d %s", b/unit.size, unit.name)
			}
		}
	}

	return fmt.Sprintf("%d B", int64(b))
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	value, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("parse size %q: %w", text, err)
	}

	*b = ByteSize(value)

	return nil
}
