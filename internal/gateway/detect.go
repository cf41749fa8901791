package gateway

import (
	"fmt"
	"os"
	"path/filepath"

	"papermind/internal/types"

	"github.com/gabriel-vasile/mimetype"
)

// DetectFile builds a FileRef for a local file, declaring its type from the
// file's content rather than its extension.
func DetectFile(path string) (types.FileRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.FileRef{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return types.FileRef{}, fmt.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return types.FileRef{}, fmt.Errorf("failed to detect type of %s: %w", path, err)
	}
	return types.FileRef{
		Name:        filepath.Base(path),
		Path:        path,
		ContentType: mt.String(),
		Size:        info.Size(),
	}, nil
}

// DetectFiles runs DetectFile over paths, stopping at the first failure.
func DetectFiles(paths []string) ([]types.FileRef, error) {
	out := make([]types.FileRef, 0, len(paths))
	for _, p := range paths {
		ref, err := DetectFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}
