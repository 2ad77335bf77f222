package transfer

import (
	"math"
	"strconv"
)

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatSize renders a byte count with the largest fitting unit, up to
// two decimals with trailing zeros trimmed: 1536 -> "1.5 KB".
func FormatSize(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(sizeUnits)-1 {
		v /= 1024
		i++
	}
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}

// ComputeProgress returns the integer percentage of total transferred,
// clamped to [0, 100]. A zero total yields 0.
func ComputeProgress(transferred, total int64) int {
	if total <= 0 {
		return 0
	}
	pct := math.Round(float64(transferred) * 100 / float64(total))
	switch {
	case pct > 100:
		return 100
	case pct < 0:
		return 0
	}
	return int(pct)
}
