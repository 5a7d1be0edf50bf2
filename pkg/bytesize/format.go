// Package bytesize provides human-friendly byte size formatting.
package bytesize

import "fmt"

// unit thresholds, 1024-based.
const (
	kb = 1 << 10
	mb = 1 << 20
	gb = 1 << 30
	tb = 1 << 40
)

// Format renders a byte count with its largest fitting unit.
//
// Examples:
//
//	Format(512)        // "512 B"
//	Format(1536)       // "1.5 KB"
//	Format(536870912)  // "512.0 MB"
func Format(n int64) string {
	switch {
	case n >= tb:
		return fmt.Sprintf("%.1f TB", float64(n)/tb)
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
