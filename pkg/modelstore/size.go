package modelstore

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize converts a human-readable size string ("1GB", "500MB", "1024")
// to bytes. Units are powers of 1024. A bare number is taken as bytes.
func ParseSize(s string) (int64, error) {
	trimmed := strings.TrimSpace(strings.ToUpper(s))
	if trimmed == "" {
		return 0, fmt.Errorf("empty size string")
	}

	multipliers := []struct {
		suffix string
		factor int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	for _, m := range multipliers {
		if !strings.HasSuffix(trimmed, m.suffix) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(trimmed, m.suffix))
		value, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %w", s, err)
		}
		if value < 0 {
			return 0, fmt.Errorf("negative size %q", s)
		}
		return int64(value * float64(m.factor)), nil
	}

	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return value, nil
}
