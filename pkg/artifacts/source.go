package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LibDir is the subdirectory of an artifact directory holding the files.
const LibDir = "lib"

// Path resolves a command or dependency artifact: <dir>/lib/<file>.
func Path(dir, file string) string {
	return filepath.Join(dir, LibDir, file)
}

// Read loads the artifact at path. Absent files are reported as
// ErrArtifactNotFound.
func Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command descriptor
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	return data, nil
}
