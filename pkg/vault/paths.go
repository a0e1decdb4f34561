package vault

import (
	"regexp"
	"strings"
)

const (
	// RootMarker is the first element of every UI path stack.
	RootMarker = "s"
	// HomeFolder is the top of every owner's filetree.
	HomeFolder = "Home"
)

// RootStack is the path stack of an owner's home folder.
var RootStack = []string{RootMarker, HomeFolder}

var rootMarkerRe = regexp.MustCompile(`^/?s(/|$)`)

// NormalizePath strips the leading storage-root marker.
func NormalizePath(p string) string {
	return rootMarkerRe.ReplaceAllString(p, "")
}

// JoinStack joins a path stack into the form handlers expect.
func JoinStack(stack []string) string {
	return NormalizePath(strings.Join(stack, "/"))
}

// SplitPath returns the parent and final element of p. The parent is empty
// for single-element paths.
func SplitPath(p string) (parent, name string) {
	p = strings.TrimSuffix(NormalizePath(p), "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// TargetPath resolves the destination of a rename. A replacement that
// contains a separator is a full destination; otherwise it names a sibling
// of old.
func TargetPath(old, replacement string) string {
	if strings.Contains(replacement, "/") {
		return strings.TrimSuffix(NormalizePath(replacement), "/")
	}
	parent, _ := SplitPath(old)
	if parent == "" {
		return replacement
	}
	return parent + "/" + replacement
}

// isUnder reports whether p equals root or lies below it.
func isUnder(p, root string) bool {
	return p == root || strings.HasPrefix(p, root+"/")
}
