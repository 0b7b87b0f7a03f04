package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/spf13/afero"
)

// SanitizeName strips control characters and replaces anything outside a
// conservative set with '_'. maxLen counts runes; zero means unlimited.
func SanitizeName(s string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune(" -_.,()'", r):
			return r
		default:
			return '_'
		}
	}, s)
	cleaned = strings.TrimSpace(cleaned)

	if runes := []rune(cleaned); maxLen > 0 && len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}

// ValidateOutputPath checks that path names a file whose parent directory
// exists and that is not itself a directory.
func ValidateOutputPath(fs afero.Fs, path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("output path is required")
	}

	dir := filepath.Dir(path)
	info, err := fs.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("output directory %s does not exist", dir)
	}
	if err != nil {
		return fmt.Errorf("invalid output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	if info, err := fs.Stat(path); err == nil && info.IsDir() {
		return fmt.Errorf("output path %s is a directory", path)
	}
	return nil
}
