// Package sysfs locates USB modems in the kernel device tree and enumerates
// the device nodes their interfaces expose.
package sysfs

import (
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxDepth bounds tree walks. sysfs has symlink loops and very deep
// platform hierarchies; USB modems sit well within this.
const DefaultMaxDepth = 20

// Entry is one node visited by Walk.
type Entry struct {
	Path  string
	Name  string
	Depth int
	Dir   bool
	Link  bool
}

// Parent is the name of the directory holding the entry.
func (e Entry) Parent() string {
	return filepath.Base(filepath.Dir(e.Path))
}

// Walk yields the entries below root, parents before children, up to
// maxDepth levels deep. Symlinks are yielded but never followed. A
// directory that cannot be read is skipped along with its subtree.
func Walk(root string, maxDepth int) iter.Seq[Entry] {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return func(yield func(Entry) bool) {
		walkDir(root, 1, maxDepth, yield)
	}
}

func walkDir(dir string, depth, maxDepth int, yield func(Entry) bool) bool {
	if depth > maxDepth {
		return true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return true
	}
	for _, de := range entries {
		e := Entry{
			Path:  filepath.Join(dir, de.Name()),
			Name:  de.Name(),
			Depth: depth,
			Dir:   de.IsDir(),
			Link:  de.Type()&os.ModeSymlink != 0,
		}
		if !yield(e) {
			return false
		}
		if e.Dir && !e.Link {
			if !walkDir(e.Path, depth+1, maxDepth, yield) {
				return false
			}
		}
	}
	return true
}

// ReadAttr reads a sysfs attribute file and trims surrounding whitespace.
func ReadAttr(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// linkBase resolves a symlink like <iface>/driver to the name it points at.
func linkBase(path string) string {
	target, err := os.Readlink(path)
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}
