package misc

import (
	"fmt"
)

var sizeSuffixes = [...]string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatFileSize formats bytes into a human-readable form with binary prefixes, for
// example, "3.75 MiB".
func FormatFileSize(bytes int64) string {
	size := float64(bytes)

	var suffixIndex int
	for size/1024 > 1 {
		size /= 1024
		suffixIndex++
	}

	res := []rune(fmt.Sprintf("%.2f", size))
	for i := len(res) - 1; i >= 0; i-- {
		if res[i] != '0' {
			if res[i] == '.' {
				i--
			}
			res = res[:i+1]
			break
		}
	}

	return string(res) + " " + sizeSuffixes[suffixIndex]
}
