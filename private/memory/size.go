// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package memory implements a human-readable byte size type for
// configuration values such as "50MiB".
package memory

import (
	"fmt"
	"strconv"
	"strings"
)

// Size implements a byte count with human-readable parsing and formatting.
type Size int64

// Size constants.
const (
	B   Size = 1
	KiB      = B << 10
	MiB      = KiB << 10
	GiB      = MiB << 10
)

// Int64 returns the size in bytes.
func (size Size) Int64() int64 { return int64(size) }

// Int returns the size in bytes.
func (size Size) Int() int { return int(size) }

// String converts the size to a human-readable string.
func (size Size) String() string {
	switch {
	case size >= GiB && size%GiB == 0:
		return strconv.FormatInt(int64(size/GiB), 10) + "GiB"
	case size >= MiB && size%MiB == 0:
		return strconv.FormatInt(int64(size/MiB), 10) + "MiB"
	case size >= KiB && size%KiB == 0:
		return strconv.FormatInt(int64(size/KiB), 10) + "KiB"
	}
	return strconv.FormatInt(int64(size), 10) + "B"
}

// Set parses a human-readable size string. It implements pflag.Value and the
// mapstructure string decode hook contract via UnmarshalText.
func (size *Size) Set(s string) error {
	value := strings.TrimSpace(s)
	suffix := ""
	for _, known := range []string{"GiB", "MiB", "KiB", "GB", "MB", "KB", "B"} {
		if strings.HasSuffix(value, known) {
			suffix = known
			value = strings.TrimSuffix(value, known)
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fmt.Errorf("memory: invalid size %q", s)
	}
	switch suffix {
	case "GiB", "GB":
		*size = Size(n) * GiB
	case "MiB", "MB":
		*size = Size(n) * MiB
	case "KiB", "KB":
		*size = Size(n) * KiB
	default:
		*size = Size(n)
	}
	return nil
}

// Type implements pflag.Value.
func (Size) Type() string { return "memory.Size" }

// UnmarshalText implements encoding.TextUnmarshaler so yaml and viper
// configs can carry sizes as strings.
func (size *Size) UnmarshalText(text []byte) error { return size.Set(string(text)) }

// MarshalText implements encoding.TextMarshaler.
func (size Size) MarshalText() ([]byte, error) { return []byte(size.String()), nil }
