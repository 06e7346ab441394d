// Package walker enumerates the regular files of a site directory.
package walker

import (
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
)

// File is a regular file found under the walk root.
type File struct {
	// Path is the absolute path on disk.
	Path string
	// Key is the path relative to the root, always slash separated.
	Key  string
	Size int64
}

// Error reports a path that could not be enumerated.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("walk %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type options struct {
	ignoreFile string
	excludes   []string
}

type Option func(*options)

// WithIgnoreFile sets the name of the ignore file looked up in the root.
func WithIgnoreFile(name string) Option {
	return func(o *options) {
		o.ignoreFile = name
	}
}

// WithExcludes adds gitignore style patterns matched against keys.
func WithExcludes(patterns ...string) Option {
	return func(o *options) {
		o.excludes = append(o.excludes, patterns...)
	}
}

// Walk returns a lazy sequence of the regular files under root. Every range
// over the sequence performs a fresh walk. Errors for individual paths are
// yielded alongside a File carrying the offending path, and the walk goes on.
// An ignore file that cannot be read ends the walk after its error, matching
// ErrIgnoreFile, without yielding any file.
//
// Symbolic links to regular files are yielded; symbolic links to directories
// are not descended into.
func Walk(root string, opts ...Option) iter.Seq2[File, error] {
	o := options{ignoreFile: DefaultIgnoreFile}
	for _, opt := range opts {
		opt(&o)
	}

	return func(yield func(File, error) bool) {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			yield(File{Path: root}, &Error{Path: root, Err: err})
			return
		}
		if info, err := os.Lstat(absRoot); err == nil && info.Mode()&fs.ModeSymlink != 0 {
			if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
				absRoot = resolved
			}
		}

		rules, err := loadIgnoreRules(absRoot, o.ignoreFile, o.excludes)
		if err != nil {
			yield(File{Path: filepath.Join(absRoot, o.ignoreFile)}, err)
			return
		}

		_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if !yield(File{Path: path}, &Error{Path: path, Err: err}) {
					return filepath.SkipAll
				}
				return nil
			}

			if path == absRoot {
				return nil
			}

			rel, err := filepath.Rel(absRoot, path)
			if err != nil {
				if !yield(File{Path: path}, &Error{Path: path, Err: err}) {
					return filepath.SkipAll
				}
				return nil
			}
			key := filepath.ToSlash(rel)

			if d.IsDir() {
				if rules.ignoreDir(key) {
					return filepath.SkipDir
				}
				return nil
			}

			if rules.ignore(key) {
				return nil
			}

			info, err := regularFileInfo(path, d)
			if err != nil {
				if !yield(File{Path: path, Key: key}, &Error{Path: path, Err: err}) {
					return filepath.SkipAll
				}
				return nil
			}
			if info == nil {
				return nil
			}

			if !yield(File{Path: path, Key: key, Size: info.Size()}, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// regularFileInfo returns nil info for entries that are not regular files,
// following symbolic links one level.
func regularFileInfo(path string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			return nil, nil
		}
		return info, nil
	}

	if !d.Type().IsRegular() {
		return nil, nil
	}
	return d.Info()
}
