// Package walker discovers repository files for staleness checks.
package walker

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileInfo holds metadata about a discovered file.
type FileInfo struct {
	Path    string
	RelPath string
	Size    int64
}

// IgnoreFile is read from the repository root when present.
const IgnoreFile = ".patternmemignore"

// DefaultIgnores apply when neither the config nor an ignore file supplies
// patterns.
var DefaultIgnores = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"vendor",
	"__pycache__",
	".idea",
	".vscode",
	".patternmem",
	"dist",
	"build",
}

// Options control a walk.
type Options struct {
	// Ignore holds directory names or doublestar globs matched against the
	// slash-separated path relative to the root.
	Ignore []string
	// Want filters files by relative path; nil accepts everything.
	Want func(relPath string) bool
}

// Walk traverses the tree rooted at root and sends matching regular files on
// the returned channel. Both channels close when the walk ends or ctx is
// cancelled.
func Walk(ctx context.Context, root string, opts Options) (<-chan FileInfo, <-chan error) {
	files := make(chan FileInfo, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(files)
		defer close(errs)

		absRoot, err := filepath.Abs(root)
		if err != nil {
			errs <- err
			return
		}

		ignores := append(loadIgnorePatterns(absRoot), opts.Ignore...)
		if len(ignores) == 0 {
			ignores = DefaultIgnores
		}

		err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip errors, keep walking
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			rel, _ := filepath.Rel(absRoot, path)
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if path == absRoot {
					return nil
				}
				if Ignored(d.Name(), rel, ignores) {
					return filepath.SkipDir
				}
				return nil
			}

			if !d.Type().IsRegular() {
				return nil
			}
			if Ignored(d.Name(), rel, ignores) {
				return nil
			}
			if opts.Want != nil && !opts.Want(rel) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}

			select {
			case files <- FileInfo{Path: path, RelPath: rel, Size: info.Size()}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			errs <- err
		}
	}()

	return files, errs
}

// loadIgnorePatterns reads IgnoreFile from the repository root.
func loadIgnorePatterns(root string) []string {
	f, err := os.Open(filepath.Join(root, IgnoreFile))
	if err != nil {
		return nil
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// Ignored reports whether a file or directory name or its relative path
// matches any pattern.
func Ignored(name, relPath string, patterns []string) bool {
	for _, p := range patterns {
		if name == p {
			return true
		}
		if relPath == p || strings.HasPrefix(relPath, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
