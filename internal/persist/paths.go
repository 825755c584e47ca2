package persist

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ResolvePath makes sure the parent directory of path exists. When it cannot
// be created the file is relocated to fallbackDir, keeping its base name.
func ResolvePath(path, fallbackDir string, logger zerolog.Logger) string {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0o755)
	if err == nil {
		return path
	}

	fallback := filepath.Join(fallbackDir, filepath.Base(path))
	logger.Warn().
		Err(err).
		Str("path", path).
		Str("fallback", fallback).
		Msg("data directory not writable, using fallback")

	if err := os.MkdirAll(fallbackDir, 0o755); err != nil {
		logger.Error().Err(err).Str("dir", fallbackDir).Msg("failed to create fallback directory")
	}
	return fallback
}
