package progress

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// binaryUnits maps the labels the engines print to their IEC equivalents.
// Engines label binary multiples as "KB", "MB" and so on.
var binaryUnits = map[string]string{
	"B":  "B",
	"KB": "KiB",
	"MB": "MiB",
	"GB": "GiB",
	"TB": "TiB",
	"PB": "PiB",
	"K":  "KiB",
	"M":  "MiB",
	"G":  "GiB",
	"T":  "TiB",
}

// DecodeSize turns a human-readable size such as "512.0 KB" into a byte count.
// Both "KB" and "KiB" spellings are treated as powers of 1024.
func DecodeSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	split := len(s)
	for split > 0 {
		c := s[split-1]
		if (c >= '0' && c <= '9') || c == '.' || c == ' ' {
			break
		}
		split--
	}
	number := strings.TrimSpace(s[:split])
	unit := strings.ToUpper(strings.TrimSpace(s[split:]))
	if number == "" {
		return 0, fmt.Errorf("invalid size %q", s)
	}

	if unit == "" {
		unit = "B"
	} else if iec, ok := binaryUnits[unit]; ok {
		unit = iec
	} else if !strings.HasSuffix(unit, "IB") {
		return 0, fmt.Errorf("unknown size unit in %q", s)
	}

	n, err := humanize.ParseBytes(number + " " + unit)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(n), nil
}

// EncodeSize formats a byte count the way the engines print it, e.g. "1.0 MB".
func EncodeSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return strings.Replace(humanize.IBytes(uint64(n)), "iB", "B", 1)
}
