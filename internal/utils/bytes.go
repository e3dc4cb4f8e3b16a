package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var sizeRe = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([kKmMgGtT]?[iI]?[bB]?)?\s*$`)

// ParseBytes parses a byte size string like "4MB", "500KB", "10MiB", "2GB".
// All units are binary (1KB = 1024 bytes).
func ParseBytes(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}

	matches := sizeRe.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid size: %s", s)
	}

	val, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, err
	}

	unit := strings.ToLower(matches[2])
	multiplier := int64(1)

	switch unit {
	case "", "b":
	case "k", "kb", "ki", "kib":
		multiplier = 1024
	case "m", "mb", "mi", "mib":
		multiplier = 1024 * 1024
	case "g", "gb", "gi", "gib":
		multiplier = 1024 * 1024 * 1024
	case "t", "tb", "ti", "tib":
		multiplier = 1024 * 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("invalid size unit: %s", s)
	}

	return int64(val * float64(multiplier)), nil
}

// HumanBytes converts bytes to human-readable format
func HumanBytes(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	i := 0
	val := float64(n)

	for val >= 1024 && i < len(units)-1 {
		val /= 1024
		i++
	}

	return fmt.Sprintf("%.2f%s", val, units[i])
}

// HumanRate formats a transfer rate. Rates above 1 MB/s are shown in MB/s,
// everything else in KB/s.
func HumanRate(bytesPerSecond int64) string {
	if bytesPerSecond > 1024*1024 {
		return fmt.Sprintf("%.1f MB/s", float64(bytesPerSecond)/(1024*1024))
	}
	return fmt.Sprintf("%.1f KB/s", float64(bytesPerSecond)/1024)
}
