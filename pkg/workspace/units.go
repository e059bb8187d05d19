package workspace

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var unitPattern = regexp.MustCompile(`^([\d.]+)\s*([a-zA-Z]*)$`)

var memoryUnitsToMB = map[string]float64{
	"":   1,
	"MB": 1,
	"GB": 1024,
	"TB": 1024 * 1024,
}

var cpuUnitsToMHz = map[string]float64{
	"MHZ": 1,
	"GHZ": 1000,
	"THZ": 1000 * 1000,
}

// ExtractSizeMB parses a memory-size string like "512 MB" or "2GB" into
// megabytes, matching the unit table from original_source's
// extract_size_in_mb. A bare number is treated as already in MB.
func ExtractSizeMB(size string) (float64, error) {
	size = strings.TrimSpace(size)
	if size == "" {
		return 0, nil
	}
	if v, err := strconv.ParseFloat(size, 64); err == nil {
		return v, nil
	}
	m := unitPattern.FindStringSubmatch(size)
	if m == nil {
		return 0, fmt.Errorf("invalid size string: %q", size)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size string: %q", size)
	}
	unit := strings.ToUpper(m[2])
	if unit == "" {
		unit = "MB"
	}
	factor, ok := memoryUnitsToMB[unit]
	if !ok {
		return 0, fmt.Errorf("unsupported size unit %q in %q", unit, size)
	}
	return value * factor, nil
}

// ExtractCPUMHz parses a CPU-frequency string like "2 GHZ" into megahertz,
// matching original_source's extract_cpu_frequency_in_mhz.
func ExtractCPUMHz(freq string) (float64, error) {
	freq = strings.TrimSpace(freq)
	if freq == "" {
		return 0, nil
	}
	if v, err := strconv.ParseFloat(freq, 64); err == nil {
		return v, nil
	}
	m := unitPattern.FindStringSubmatch(freq)
	if m == nil || m[2] == "" {
		return 0, fmt.Errorf("invalid frequency string: %q", freq)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency string: %q", freq)
	}
	unit := strings.ToUpper(m[2])
	factor, ok := cpuUnitsToMHz[unit]
	if !ok {
		return 0, fmt.Errorf("unsupported frequency unit %q in %q", unit, freq)
	}
	return value * factor, nil
}
