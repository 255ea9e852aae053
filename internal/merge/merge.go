// Package merge computes three-way merges of git trees. It works on
// flattened trees and returns the file changes that turn "ours" into the
// merge result, so the caller decides how to apply and stage them.
package merge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Entry is a non-directory tree entry.
type Entry struct {
	Hash plumbing.Hash
	Mode filemode.FileMode
}

// Tree maps slash-separated paths to entries.
type Tree map[string]Entry

// Flatten walks t recursively. A nil tree is empty.
func Flatten(t *object.Tree) (Tree, error) {
	out := Tree{}
	if t == nil {
		return out, nil
	}

	w := object.NewTreeWalker(t, true, nil)
	defer w.Close()

	for {
		name, entry, err := w.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		} else if err != nil {
			return nil, err
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		out[name] = Entry{Hash: entry.Hash, Mode: entry.Mode}
	}
}

// Blobs reads blob contents.
type Blobs interface {
	Blob(plumbing.Hash) ([]byte, error)
}

// Change is one path of the result that differs from ours.
type Change struct {
	Path    string
	Deleted bool
	Mode    filemode.FileMode
	Content []byte
}

type Result struct {
	// Changes are sorted by path.
	Changes []Change
	// Conflicts are sorted by path. A conflicted path may also appear in
	// Changes when its on-disk content must be replaced.
	Conflicts []string
}

func (r *Result) Clean() bool {
	return len(r.Conflicts) == 0
}

// Trees merges ours and theirs using base as the common ancestor.
func Trees(base, ours, theirs Tree, blobs Blobs, labels Labels) (*Result, error) {
	paths := make(map[string]struct{}, len(ours))
	for _, t := range []Tree{base, ours, theirs} {
		for p := range t {
			paths[p] = struct{}{}
		}
	}

	res := &Result{}
	for _, path := range slices.Sorted(maps.Keys(paths)) {
		b, inBase := base[path]
		o, inOurs := ours[path]
		t, inTheirs := theirs[path]

		switch {
		case inOurs == inTheirs && o == t:
			// Same on both sides.
		case inBase == inOurs && b == o:
			// Only theirs changed.
			if !inTheirs {
				res.Changes = append(res.Changes, Change{Path: path, Deleted: true})
				continue
			}
			content, err := blobs.Blob(t.Hash)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			res.Changes = append(res.Changes, Change{Path: path, Mode: t.Mode, Content: content})
		case inBase == inTheirs && b == t:
			// Only ours changed.
		case !inOurs:
			// Deleted by us, modified by them: keep their content for review.
			content, err := blobs.Blob(t.Hash)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			res.Changes = append(res.Changes, Change{Path: path, Mode: t.Mode, Content: content})
			res.Conflicts = append(res.Conflicts, path)
		case !inTheirs:
			// Modified by us, deleted by them: keep ours.
			res.Conflicts = append(res.Conflicts, path)
		default:
			change, clean, err := mergeFile(path, b, inBase, o, t, blobs, labels)
			if err != nil {
				return nil, err
			}
			if change != nil {
				res.Changes = append(res.Changes, *change)
			}
			if !clean {
				res.Conflicts = append(res.Conflicts, path)
			}
		}
	}

	return res, nil
}

// mergeFile handles a path changed differently on both sides.
func mergeFile(path string, b Entry, inBase bool, o, t Entry, blobs Blobs, labels Labels) (*Change, bool, error) {
	mode, modeClean := mergeMode(b, inBase, o, t)
	if !modeClean || !regular(o.Mode) || !regular(t.Mode) {
		return nil, false, nil
	}

	if o.Hash == t.Hash {
		if mode == o.Mode {
			return nil, true, nil
		}
		content, err := blobs.Blob(o.Hash)
		if err != nil {
			return nil, false, fmt.Errorf("read %s: %w", path, err)
		}
		return &Change{Path: path, Mode: mode, Content: content}, true, nil
	}

	var baseContent []byte
	if inBase && regular(b.Mode) {
		var err error
		if baseContent, err = blobs.Blob(b.Hash); err != nil {
			return nil, false, fmt.Errorf("read %s: %w", path, err)
		}
	}
	oursContent, err := blobs.Blob(o.Hash)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	theirsContent, err := blobs.Blob(t.Hash)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	if binary(baseContent) || binary(oursContent) || binary(theirsContent) {
		return nil, false, nil
	}

	merged, clean := Text(baseContent, oursContent, theirsContent, labels)
	if bytes.Equal(merged, oursContent) && mode == o.Mode {
		return nil, clean, nil
	}
	return &Change{Path: path, Mode: mode, Content: merged}, clean, nil
}

func mergeMode(b Entry, inBase bool, o, t Entry) (filemode.FileMode, bool) {
	switch {
	case o.Mode == t.Mode:
		return o.Mode, true
	case inBase && b.Mode == o.Mode:
		return t.Mode, true
	case inBase && b.Mode == t.Mode:
		return o.Mode, true
	default:
		return o.Mode, false
	}
}

func regular(m filemode.FileMode) bool {
	return m == filemode.Regular || m == filemode.Executable || m == filemode.Deprecated
}

// binary uses the same heuristic as git: a NUL byte in the first 8000 bytes.
func binary(content []byte) bool {
	return bytes.IndexByte(content[:min(len(content), 8000)], 0) >= 0
}
