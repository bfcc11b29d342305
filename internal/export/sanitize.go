package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// SanitizeName reduces a bundle identifier to a filename-safe base name.
// Control characters are dropped and runs of disallowed characters
// collapse to a single underscore.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	pendingGap := false
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if safeNameRune(r) {
			b.WriteRune(r)
			pendingGap = false
			continue
		}
		if !pendingGap {
			b.WriteRune('_')
			pendingGap = true
		}
	}

	out := strings.Trim(b.String(), " _")
	if maxLen > 0 {
		if runes := []rune(out); len(runes) > maxLen {
			out = strings.TrimRight(string(runes[:maxLen]), " _")
		}
	}
	return out
}

// Capture timestamps look like "2024-01-15_14-30-25", so letters, digits,
// dash, underscore, dot and space cover every real bundle name.
func safeNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.':
		return true
	}
	return false
}

// ValidateOutputDir checks that dir names an existing directory via a
// clean path with no traversal segments. Used both when a job starts and
// when the API accepts a caller-supplied output_dir.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("output dir is empty")
	}
	if dir != filepath.Clean(dir) {
		return fmt.Errorf("output dir %q is not a clean path", dir)
	}
	for _, seg := range strings.Split(filepath.ToSlash(dir), "/") {
		if seg == ".." {
			return fmt.Errorf("output dir %q contains a traversal segment", dir)
		}
	}

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("output dir %q does not exist", dir)
	case err != nil:
		return fmt.Errorf("stat output dir: %w", err)
	case !info.IsDir():
		return fmt.Errorf("output dir %q is not a directory", dir)
	}
	return nil
}
