package storage

import (
	"mime"
	"path"
	"strings"
)

// DefaultContentType is used when the key's extension is unknown.
const DefaultContentType = "text/plain"

// DetectContentType derives the Content-Type of an object from its key.
func DetectContentType(key string) string {
	ext := strings.ToLower(path.Ext(key))

	if isTextLike(ext) {
		return "text/plain; charset=utf-8"
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	return DefaultContentType
}

func isTextLike(ext string) bool {
	switch ext {
	case ".yaml", ".yml", ".toml", ".md":
		return true
	}
	return false
}
