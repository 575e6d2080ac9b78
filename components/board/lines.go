package board

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultGPIOChip is the character device lines are requested from when a pin name does not
// name a chip.
const DefaultGPIOChip = "gpiochip0"

// ParseLineName splits a pin name of the form "<chip>:<offset>" or "<offset>" into the chip and
// the line offset. Names without a chip use defaultChip.
func ParseLineName(name, defaultChip string) (string, int, error) {
	chip := defaultChip
	offsetStr := name
	if idx := strings.LastIndex(name, ":"); idx >= 0 {
		chip = name[:idx]
		offsetStr = name[idx+1:]
	}
	if chip == "" {
		return "", 0, errors.Errorf("pin %q names no gpio chip", name)
	}
	offset, err := strconv.Atoi(offsetStr)
	if err != nil || offset < 0 {
		return "", 0, errors.Errorf("pin %q does not end in a line offset", name)
	}
	return chip, offset, nil
}

// ChipDevicePath turns a chip name like "gpiochip0" into its device path. Paths are returned as is.
func ChipDevicePath(chip string) string {
	if strings.HasPrefix(chip, "/") {
		return chip
	}
	return "/dev/" + chip
}
