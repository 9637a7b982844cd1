// Package library manages the on-disk image layout: one directory per project
// under the image root, one image file per record. The filesystem is the
// source of truth; indexes and the fingerprint cache are rebuilt from it.
package library

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Library resolves project and image paths under a single root directory.
type Library struct {
	root       string
	extensions map[string]struct{}
}

// New creates a library rooted at root, recognizing the given file extensions
// (lowercase, with leading dot) as images. The root is created if missing.
func New(root string, extensions []string) (*Library, error) {
	if root == "" {
		return nil, fmt.Errorf("image root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image root: %w", err)
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Library{root: root, extensions: exts}, nil
}

// Root returns the library root directory.
func (l *Library) Root() string { return l.root }

// IsImageFile reports whether path has a recognized image extension.
func (l *Library) IsImageFile(path string) bool {
	_, ok := l.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// HasProject reports whether the project directory exists.
func (l *Library) HasProject(project string) bool {
	dir, err := l.projectDir(project)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Projects returns the names of all project directories, sorted.
func (l *Library) Projects() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read image root: %w", err)
	}
	var projects []string
	for _, e := range entries {
		if e.IsDir() {
			projects = append(projects, e.Name())
		}
	}
	sort.Strings(projects)
	return projects, nil
}

// Images returns the image file names in a project directory, sorted.
// Non-image files and subdirectories are skipped. A project whose directory
// does not exist yet is empty, not an error; the directory appears on the
// first WriteImage.
func (l *Library) Images(project string) ([]string, error) {
	dir, err := l.projectDir(project)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project directory: %w", err)
	}
	var images []string
	for _, e := range entries {
		if !e.IsDir() && l.IsImageFile(e.Name()) {
			images = append(images, e.Name())
		}
	}
	sort.Strings(images)
	return images, nil
}

// ImagePath returns the absolute path for an image, validating that both
// components are plain names that stay inside the project directory.
func (l *Library) ImagePath(project, identifier string) (string, error) {
	dir, err := l.projectDir(project)
	if err != nil {
		return "", err
	}
	if err := checkName(identifier); err != nil {
		return "", fmt.Errorf("invalid identifier %q: %w", identifier, err)
	}
	return filepath.Join(dir, identifier), nil
}

// ReadImage returns the raw bytes of an image file.
func (l *Library) ReadImage(project, identifier string) ([]byte, error) {
	path, err := l.ImagePath(project, identifier)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// WriteImage stores raw image bytes, creating the project directory if
// needed. An existing file with the same identifier is replaced.
func (l *Library) WriteImage(project, identifier string, data []byte) error {
	path, err := l.ImagePath(project, identifier)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DeleteImage removes an image file. Removing an absent file is a no-op.
func (l *Library) DeleteImage(project, identifier string) error {
	path, err := l.ImagePath(project, identifier)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeleteProject removes a project directory and everything in it. Removing an
// absent project is a no-op.
func (l *Library) DeleteProject(project string) error {
	dir, err := l.projectDir(project)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// SplitPath maps an absolute path under the root back to (project,
// identifier). Returns ok=false for paths outside the root or not exactly two
// levels deep.
func (l *Library) SplitPath(path string) (project, identifier string, ok bool) {
	rel, err := filepath.Rel(l.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Checksum returns the SHA-256 hex digest of data, used to detect stale
// fingerprint cache entries.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (l *Library) projectDir(project string) (string, error) {
	if err := checkName(project); err != nil {
		return "", fmt.Errorf("invalid project %q: %w", project, err)
	}
	return filepath.Join(l.root, project), nil
}

// checkName rejects empty names and anything that could escape its directory.
func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("reserved name")
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("path separator not allowed")
	}
	return nil
}
