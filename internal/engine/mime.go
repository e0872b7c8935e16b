package engine

import (
	"path/filepath"
	"strings"
)

// mimeTypes maps known artifact extensions to content types.
var mimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".json": "application/json",
	".xml":  "application/xml",
	".html": "text/html",
	".htm":  "text/html",
	".txt":  "text/plain",
	".log":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".zip":  "application/zip",
	".tar":  "application/x-tar",
	".gz":   "application/gzip",
}

// defaultMIMEType is used for extensions not in the table.
const defaultMIMEType = "application/octet-stream"

// MIMETypeFor infers a content type from a file name's extension.
func MIMETypeFor(name string) string {
	if mt, ok := mimeTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return defaultMIMEType
}
