package merge

import (
	"fmt"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/google/go-cmp/cmp"
)

var labels = Labels{Ours: "HEAD", Theirs: "abc1234"}

func TestText(t *testing.T) {
	tests := []struct {
		note   string
		base   string
		ours   string
		theirs string
		exp    string
		clean  bool
	}{
		{
			note:   "disjoint edits",
			base:   "a\nb\nc\nd\ne\n",
			ours:   "a\nB\nc\nd\ne\n",
			theirs: "a\nb\nc\nD\ne\n",
			exp:    "a\nB\nc\nD\ne\n",
			clean:  true,
		},
		{
			note:   "only theirs",
			base:   "a\nb\n",
			ours:   "a\nb\n",
			theirs: "a\nb\nc\n",
			exp:    "a\nb\nc\n",
			clean:  true,
		},
		{
			note:   "same edit on both sides",
			base:   "a\nb\nc\n",
			ours:   "a\nX\nc\n",
			theirs: "a\nX\nc\n",
			exp:    "a\nX\nc\n",
			clean:  true,
		},
		{
			note:   "insertions at both ends",
			base:   "m\n",
			ours:   "top\nm\n",
			theirs: "m\nbottom\n",
			exp:    "top\nm\nbottom\n",
			clean:  true,
		},
		{
			note:   "same line changed differently",
			base:   "a\nb\nc\n",
			ours:   "a\nours\nc\n",
			theirs: "a\ntheirs\nc\n",
			exp:    "a\n<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> abc1234\nc\n",
		},
		{
			note:   "adjacent lines conflict",
			base:   "a\nb\nc\nd\n",
			ours:   "a\nB\nc\nd\n",
			theirs: "a\nb\nC\nd\n",
			exp:    "a\n<<<<<<< HEAD\nB\nc\n=======\nb\nC\n>>>>>>> abc1234\nd\n",
		},
		{
			note:   "both append different lines",
			base:   "a\n",
			ours:   "a\nours\n",
			theirs: "a\ntheirs\n",
			exp:    "a\n<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> abc1234\n",
		},
		{
			note:   "missing trailing newline",
			base:   "a",
			ours:   "b",
			theirs: "c",
			exp:    "<<<<<<< HEAD\nb\n=======\nc\n>>>>>>> abc1234\n",
		},
		{
			note:   "add/add without base",
			base:   "",
			ours:   "x\n",
			theirs: "y\n",
			exp:    "<<<<<<< HEAD\nx\n=======\ny\n>>>>>>> abc1234\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			got, clean := Text([]byte(tc.base), []byte(tc.ours), []byte(tc.theirs), labels)
			if clean != tc.clean {
				t.Errorf("expected clean=%v, got %v", tc.clean, clean)
			}
			if diff := cmp.Diff(tc.exp, string(got)); diff != "" {
				t.Errorf("unexpected merge (-want,+got):\n%s", diff)
			}
		})
	}
}

type blobMap map[plumbing.Hash][]byte

func (m blobMap) Blob(h plumbing.Hash) ([]byte, error) {
	bs, ok := m[h]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", h)
	}
	return bs, nil
}

func (m blobMap) add(content string) plumbing.Hash {
	h := plumbing.ComputeHash(plumbing.BlobObject, []byte(content))
	m[h] = []byte(content)
	return h
}

func TestTrees(t *testing.T) {
	blobs := blobMap{}
	file := func(content string) Entry { return Entry{Hash: blobs.add(content), Mode: filemode.Regular} }

	base := Tree{
		"keep.txt":          file("keep\n"),
		"ours-only.txt":     file("1\n"),
		"theirs-only.txt":   file("1\n"),
		"both.txt":          file("a\nb\nc\nd\ne\n"),
		"conflict.txt":      file("a\nb\nc\n"),
		"deleted-by-us.txt": file("x\n"),
		"deleted-theirs":    file("gone\n"),
		"bin.dat":           file("\x00\x01"),
	}
	ours := Tree{
		"keep.txt":        file("keep\n"),
		"ours-only.txt":   file("2\n"),
		"theirs-only.txt": file("1\n"),
		"both.txt":        file("a\nB\nc\nd\ne\n"),
		"conflict.txt":    file("a\nours\nc\n"),
		"deleted-theirs":  file("gone\n"),
		"bin.dat":         file("\x00\x02"),
		"new-ours.txt":    file("mine\n"),
	}
	theirs := Tree{
		"keep.txt":          file("keep\n"),
		"ours-only.txt":     file("1\n"),
		"theirs-only.txt":   file("3\n"),
		"both.txt":          file("a\nb\nc\nD\ne\n"),
		"conflict.txt":      file("a\ntheirs\nc\n"),
		"deleted-by-us.txt": file("x2\n"),
		"bin.dat":           file("\x00\x03"),
		"new-theirs.txt":    file("yours\n"),
	}

	res, err := Trees(base, ours, theirs, blobs, labels)
	if err != nil {
		t.Fatal(err)
	}

	exp := &Result{
		Changes: []Change{
			{Path: "both.txt", Mode: filemode.Regular, Content: []byte("a\nB\nc\nD\ne\n")},
			{Path: "conflict.txt", Mode: filemode.Regular, Content: []byte("a\n<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> abc1234\nc\n")},
			{Path: "deleted-by-us.txt", Mode: filemode.Regular, Content: []byte("x2\n")},
			{Path: "deleted-theirs", Deleted: true},
			{Path: "new-theirs.txt", Mode: filemode.Regular, Content: []byte("yours\n")},
			{Path: "theirs-only.txt", Mode: filemode.Regular, Content: []byte("3\n")},
		},
		Conflicts: []string{"bin.dat", "conflict.txt", "deleted-by-us.txt"},
	}

	if diff := cmp.Diff(exp, res); diff != "" {
		t.Fatalf("unexpected result (-want,+got):\n%s", diff)
	}
	if res.Clean() {
		t.Fatal("expected conflicts")
	}
}

func TestTreesModeChange(t *testing.T) {
	blobs := blobMap{}
	h := blobs.add("#!/bin/sh\n")
	h2 := blobs.add("#!/bin/sh\necho hi\n")

	base := Tree{"run.sh": {Hash: h, Mode: filemode.Regular}}
	ours := Tree{"run.sh": {Hash: h2, Mode: filemode.Regular}}
	theirs := Tree{"run.sh": {Hash: h, Mode: filemode.Executable}}

	res, err := Trees(base, ours, theirs, blobs, labels)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Clean() {
		t.Fatalf("unexpected conflicts %v", res.Conflicts)
	}
	exp := []Change{{Path: "run.sh", Mode: filemode.Executable, Content: []byte("#!/bin/sh\necho hi\n")}}
	if diff := cmp.Diff(exp, res.Changes); diff != "" {
		t.Fatalf("unexpected changes (-want,+got):\n%s", diff)
	}
}

func TestFlatten(t *testing.T) {
	st := memory.NewStorage()

	blob := st.NewEncodedObject()
	blob.SetType(plumbing.BlobObject)
	w, err := blob.Writer()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("hi\n")); err != nil {
		t.Fatal(err)
	}
	w.Close()
	blobHash, err := st.SetEncodedObject(blob)
	if err != nil {
		t.Fatal(err)
	}

	sub := &object.Tree{Entries: []object.TreeEntry{{Name: "b.txt", Mode: filemode.Regular, Hash: blobHash}}}
	subObj := st.NewEncodedObject()
	if err := sub.Encode(subObj); err != nil {
		t.Fatal(err)
	}
	subHash, err := st.SetEncodedObject(subObj)
	if err != nil {
		t.Fatal(err)
	}

	root := &object.Tree{Entries: []object.TreeEntry{
		{Name: "a.txt", Mode: filemode.Regular, Hash: blobHash},
		{Name: "dir", Mode: filemode.Dir, Hash: subHash},
	}}
	rootObj := st.NewEncodedObject()
	if err := root.Encode(rootObj); err != nil {
		t.Fatal(err)
	}
	rootHash, err := st.SetEncodedObject(rootObj)
	if err != nil {
		t.Fatal(err)
	}

	tree, err := object.GetTree(st, rootHash)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Flatten(tree)
	if err != nil {
		t.Fatal(err)
	}
	exp := Tree{
		"a.txt":     {Hash: blobHash, Mode: filemode.Regular},
		"dir/b.txt": {Hash: blobHash, Mode: filemode.Regular},
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("unexpected tree (-want,+got):\n%s", diff)
	}

	empty, err := Flatten(nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty tree, got %v, %v", empty, err)
	}
}
