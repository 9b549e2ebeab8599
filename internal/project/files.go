// Package project reads and writes a generated project's file tree.
// Build artifacts, lockfiles and dotfiles are excluded: they are either
// regenerated by the deployment service or irrelevant to the model.
package project

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"appforge/internal/logging"
)

// File is one project file with plain-text content.
type File struct {
	Name    string `json:"filename"`
	Content string `json:"content"`
}

// excludedDirs are never descended into.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".next":        true,
	"dist":         true,
	"build":        true,
	"out":          true,
	".git":         true,
	".vercel":      true,
}

// excludedFiles are never read or written.
var excludedFiles = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"bun.lockb":         true,
	".DS_Store":         true,
}

// maxFileSize guards against binary blobs sneaking into the model context.
const maxFileSize = 512 * 1024

// ReadTree reads every project file under root, applying the exclusion
// rules. Names are slash-separated and relative to root.
func ReadTree(root string) ([]File, error) {
	timer := logging.StartTimer(logging.CategoryProject, "ReadTree")
	defer timer.Stop()

	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := d.Name()
		if d.IsDir() {
			if path != root && (excludedDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}

		if excludedFiles[name] || strings.HasPrefix(name, ".") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxFileSize {
			logging.Get(logging.CategoryProject).Warn("skipping oversized file %s (%d bytes)", path, info.Size())
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, File{
			Name:    filepath.ToSlash(rel),
			Content: string(data),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read project tree: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	logging.ProjectDebug("read %d files from %s", len(files), root)
	return files, nil
}

// WriteTree writes files under root, creating directories as needed.
// Paths are cleaned and must stay inside root.
func WriteTree(root string, files []File) error {
	timer := logging.StartTimer(logging.CategoryProject, "WriteTree")
	defer timer.Stop()

	for _, f := range files {
		rel := filepath.Clean(filepath.FromSlash(f.Name))
		if rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
			return fmt.Errorf("refusing to write outside project root: %q", f.Name)
		}

		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", f.Name, err)
		}
		if err := os.WriteFile(path, []byte(f.Content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Name, err)
		}
	}

	logging.ProjectDebug("wrote %d files to %s", len(files), root)
	return nil
}

// Lookup returns the file with the given name, if present.
func Lookup(files []File, name string) (File, bool) {
	for _, f := range files {
		if f.Name == name {
			return f, true
		}
	}
	return File{}, false
}

// Upsert replaces the named file's content or appends a new file,
// returning the updated set.
func Upsert(files []File, name, content string) []File {
	for i := range files {
		if files[i].Name == name {
			files[i].Content = content
			return files
		}
	}
	return append(files, File{Name: name, Content: content})
}

// Remove deletes the named file from the set, returning the updated set.
func Remove(files []File, name string) []File {
	out := files[:0]
	for _, f := range files {
		if f.Name != name {
			out = append(out, f)
		}
	}
	return out
}

// Names returns the file names in order.
func Names(files []File) []string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names
}
