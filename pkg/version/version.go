// Package version parses cartridge firmware version strings and maps them to
// the firmware-generation dependent memory layout.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Savestate interface base addresses. Firmware release 11 moved the
// interface block.
const (
	SavestateInterfaceOld uint32 = 0xFC2000
	SavestateInterfaceNew uint32 = 0xFE1000

	// SavestateRelease is the first firmware release using SavestateInterfaceNew.
	SavestateRelease = 11
)

// ErrInvalidFirmware is returned when a firmware string carries no version number.
var ErrInvalidFirmware = errors.New("invalid firmware version")

// Firmware is a parsed "major[.minor[.patch]]" firmware version. Suffix keeps
// anything after the numeric part ("-usb-v2", "b3").
type Firmware struct {
	Major  uint16
	Minor  uint16
	Patch  uint16
	Suffix string
	Raw    string
}

// ParseFirmware extracts the leading dotted version number from s. Text
// before the first digit is skipped, so "v1.11.0" and "FW 11" both parse.
func ParseFirmware(s string) (Firmware, error) {
	fw := Firmware{Raw: s}

	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return fw, fmt.Errorf("%w: %q", ErrInvalidFirmware, s)
	}
	rest := s[start:]

	parts := [3]*uint16{&fw.Major, &fw.Minor, &fw.Patch}
	for i, p := range parts {
		end := strings.IndexFunc(rest, func(r rune) bool { return !isDigit(r) })
		if end < 0 {
			end = len(rest)
		}
		n, err := strconv.ParseUint(rest[:end], 10, 16)
		if err != nil {
			return fw, fmt.Errorf("%w: %q: %v", ErrInvalidFirmware, s, err)
		}
		*p = uint16(n)
		rest = rest[end:]

		if i == len(parts)-1 || len(rest) < 2 || rest[0] != '.' || !isDigit(rune(rest[1])) {
			break
		}
		rest = rest[1:]
	}

	fw.Suffix = rest
	return fw, nil
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// String returns the numeric part as "major.minor.patch".
func (f Firmware) String() string {
	return fmt.Sprintf("%d.%d.%d", f.Major, f.Minor, f.Patch)
}

// Release returns the firmware release number. Cartridge firmware is
// numbered "1.<release>.<patch>"; hubs that report a bare release ("11.0")
// are taken at their major number.
func (f Firmware) Release() uint16 {
	if f.Major == 1 {
		return f.Minor
	}
	return f.Major
}

// AtLeast reports whether f is the given release or newer.
func (f Firmware) AtLeast(release uint16) bool {
	return f.Release() >= release
}

// SavestateInterface returns the savestate interface base address for f.
func (f Firmware) SavestateInterface() uint32 {
	if f.AtLeast(SavestateRelease) {
		return SavestateInterfaceNew
	}
	return SavestateInterfaceOld
}
