package domain

import (
	"path"
	"strings"
)

// FileLocation binds a Post to its Markdown file. FilePath is the slash-separated
// directory relative to the Markdown root and FileName carries no extension.
type FileLocation struct {
	FilePath string
	FileName string
}

// LocationFromRelative splits a slash-separated path relative to the Markdown root,
// e.g. "notes/go/a.md" into {FilePath: "notes/go", FileName: "a"}.
func LocationFromRelative(rel string, ext string) FileLocation {
	rel = strings.Trim(path.Clean(strings.ReplaceAll(rel, "\\", "/")), "/")
	dir, file := path.Split(rel)
	return FileLocation{
		FilePath: strings.Trim(dir, "/"),
		FileName: strings.TrimSuffix(file, ext),
	}
}

func (l FileLocation) Validate() error {
	if err := ValidateFilePath(l.FilePath); err != nil {
		return err
	}
	return ValidateFileName(l.FileName)
}

// Key is the logical identity of the location, unique across the tree.
func (l FileLocation) Key() string {
	if l.FilePath == "" {
		return l.FileName
	}
	return l.FilePath + "/" + l.FileName
}

// Relative returns the path of the Markdown file relative to the root.
func (l FileLocation) Relative(ext string) string {
	return l.Key() + ext
}

// DerivedCategory is the last directory segment, or "" at the root.
func (l FileLocation) DerivedCategory() string {
	if l.FilePath == "" {
		return ""
	}
	return path.Base(l.FilePath)
}

func (l FileLocation) String() string {
	return l.Key()
}
