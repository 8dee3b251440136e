package utils

import (
	"strconv"
	"strings"
)

// fileSizeStep is the factor between consecutive fileSizeUnits.
const fileSizeStep = 1024

var fileSizeUnits = [...]string{"b", "kb", "mb", "gb", "tb", "pb"}

// FormatFileSize renders a byte length for tree lines and cache statistics:
// whole bytes below one kilobyte, one decimal below ten units, whole units
// otherwise. A value that rounds up to a full step moves to the next unit.
func FormatFileSize(byteCount int64) string {
	if byteCount < fileSizeStep {
		return strconv.FormatInt(max(byteCount, 0), 10) + fileSizeUnits[0]
	}
	value := float64(byteCount)
	unitIndex := 0
	for value >= fileSizeStep && unitIndex < len(fileSizeUnits)-1 {
		value /= fileSizeStep
		unitIndex++
	}
	precision := 0
	if value < 10 {
		precision = 1
	}
	formatted := strconv.FormatFloat(value, 'f', precision, 64)
	if formatted == strconv.Itoa(fileSizeStep) && unitIndex < len(fileSizeUnits)-1 {
		return "1" + fileSizeUnits[unitIndex+1]
	}
	return strings.TrimSuffix(formatted, ".0") + fileSizeUnits[unitIndex]
}
