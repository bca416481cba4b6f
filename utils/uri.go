package utils

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// URIToFilePath converts a file:// URI (as the client sends on every
// didOpen/didChange/didClose) into a local filesystem path so envdiscovery
// can walk the directory tree looking for a virtualenv. Anything that isn't
// a file URI is returned unchanged.
func URIToFilePath(uri string) string {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, "file://") && !strings.HasPrefix(uri, "file:") {
		return uri
	}
	if p, err := fileURIToPath(uri); err == nil {
		return p
	}
	// best-effort fallback
	return strings.TrimPrefix(strings.TrimPrefix(uri, "file://"), "file:")
}

// fileURIToPath decodes a file:// URI into a local OS path, unescaping
// percent-encoded characters (e.g. spaces) and stripping the extra leading
// slash on a Windows drive-letter path (file:///C:/... -> C:/...) regardless
// of the runtime OS, since the editor sending the URI need not share it.
func fileURIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("not a file uri: %s", u.Scheme)
	}

	p, err := url.PathUnescape(u.Path)
	if err != nil {
		return "", fmt.Errorf("invalid uri path escape: %w", err)
	}

	if strings.HasPrefix(p, "/") && len(p) >= 3 && p[2] == ':' {
		p = p[1:]
	}

	return filepath.FromSlash(p), nil
}
