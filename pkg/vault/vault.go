// Package vault reads task documents from a directory of markdown notes.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Document identifies one note of the corpus.
type Document struct {
	ID   string `json:"id"`   // slash-separated path relative to the corpus root
	Name string `json:"name"` // base name without extension
}

// Corpus lists documents and reads their text.
type Corpus interface {
	List(ctx context.Context) ([]Document, error)
	Read(ctx context.Context, id string) (string, error)
}

// ReadError reports a document that could not be read. Scans skip such documents.
type ReadError struct {
	DocumentID string
	Err        error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read document %s: %v", e.DocumentID, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Dir is a Corpus backed by a directory tree. Dot-directories (.obsidian, .trash) are skipped.
type Dir struct {
	Root       string
	Extensions []string // defaults to [".md"]
}

// NewDir returns a Dir rooted at root.
func NewDir(root string) *Dir {
	return &Dir{Root: expandHome(root), Extensions: []string{".md"}}
}

func (d *Dir) List(ctx context.Context) ([]Document, error) {
	if _, err := os.Stat(d.Root); err != nil {
		return nil, fmt.Errorf("could not open vault '%s': %w", d.Root, err)
	}
	var docs []Document
	err := filepath.WalkDir(d.Root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if p != d.Root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.accepts(entry.Name()) {
			return nil
		}
		rel, err := filepath.Rel(d.Root, p)
		if err != nil {
			return nil
		}
		docs = append(docs, newDocument(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (d *Dir) Read(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &ReadError{DocumentID: id, Err: err}
	}
	clean := path.Clean("/" + id)
	b, err := os.ReadFile(filepath.Join(d.Root, filepath.FromSlash(clean)))
	if err != nil {
		return "", &ReadError{DocumentID: id, Err: err}
	}
	return string(b), nil
}

func (d *Dir) accepts(name string) bool {
	exts := d.Extensions
	if len(exts) == 0 {
		exts = []string{".md"}
	}
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func newDocument(id string) Document {
	base := path.Base(id)
	return Document{ID: id, Name: strings.TrimSuffix(base, path.Ext(base))}
}

// Excluded reports whether the document name contains any of the given substrings.
func Excluded(doc Document, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(doc.Name, p) {
			return true
		}
	}
	return false
}

// AsReadError converts err to a *ReadError for id, keeping an existing one.
func AsReadError(id string, err error) *ReadError {
	var re *ReadError
	if errors.As(err, &re) {
		return re
	}
	return &ReadError{DocumentID: id, Err: err}
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~"+string(os.PathSeparator)) || p == "~" {
		home, _ := os.UserHomeDir()
		if home != "" {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
