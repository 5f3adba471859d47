// Package store provides document-store implementations of publish.Store.
package store

import (
	"path"
	"strings"
)

// objectKey joins the configured prefix and a document key.
func objectKey(prefix, key string) string {
	return strings.TrimPrefix(path.Join(prefix, key), "/")
}

// contentType derives the MIME type from the key extension set by the
// publisher.
func contentType(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case ".msgpack":
		return "application/msgpack"
	default:
		return "application/octet-stream"
	}
}
