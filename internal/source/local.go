package source

import (
	"context"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
)

// Local serves files from a directory on disk, used by the indexer CLI
// to index a checkout without touching the network. Owner and repo
// arguments are ignored; the root fixes the repository.
type Local struct {
	Root string
}

// NewLocal creates a Local client rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{Root: dir}
}

// ListFiles walks the root and returns all regular file paths relative
// to it, skipping VCS metadata.
func (l *Local) ListFiles(ctx context.Context, _, _ string) ([]string, error) {
	var paths []string
	err := godirwalk.Walk(l.Root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if de.IsDir() {
				if de.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(l.Root, path)
			if err != nil {
				return err
			}
			paths = append(paths, filepath.ToSlash(rel))
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// GetFileContent reads one file relative to the root.
func (l *Local) GetFileContent(_ context.Context, _, _, path string) (string, error) {
	b, err := os.ReadFile(filepath.Join(l.Root, filepath.FromSlash(path)))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
