// Package fsutil holds the small file-system helpers shared by the induction,
// retrieval, and evaluation commands.
//
// Every artifact the pipeline produces is written whole-file: WriteFileAtomic
// writes a temp file in the destination directory and renames it over the
// target, so an interrupted run leaves the previous artifact intact.
package fsutil

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExpandHome replaces a leading "~/" or a bare "~" with the user's home directory.
// Returns path unchanged if it does not start with "~".
//
// Expectations:
//   - Expands "~/foo" to "<home>/foo"
//   - Expands bare "~" to "<home>"
//   - Returns path unchanged for "/absolute/path"
func ExpandHome(path string) string {
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// GlobFiles walks root recursively and returns the sorted paths whose base
// name matches pattern (filepath.Match syntax: *.txt, *_v2.txt, etc.).
// If root is empty, it defaults to ".". Inaccessible entries are skipped.
//
// Expectations:
//   - Matches files in nested directories
//   - Skips directories even when their name matches
//   - Returns paths in lexical order
func GlobFiles(root, pattern string) ([]string, error) {
	if root == "" {
		root = "."
	}
	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			matches = append(matches, path)
		}
		return nil
	})
	sort.Strings(matches)
	return matches, err
}

// ReadFile reads the file at path and returns its contents as a string.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadLines returns every line of r with the trailing newline (and any "\r")
// removed. A final line without a newline is included.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("fsutil: read lines: %w", err)
	}
	return lines, nil
}

// WriteFileAtomic replaces path with data. The parent directory is created when
// absent. The content is written to a temp file beside path and renamed over
// it, so readers never observe a partially written file.
//
// Expectations:
//   - Creates missing parent directories
//   - Overwrites an existing file completely
//   - Leaves no temp file behind on success
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsutil: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("fsutil: create temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("fsutil: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("fsutil: close temp: %w", err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return fmt.Errorf("fsutil: chmod temp: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("fsutil: rename: %w", err)
	}
	return nil
}

// WriteFile is WriteFileAtomic for string content.
func WriteFile(path, content string) error {
	return WriteFileAtomic(path, []byte(content))
}
