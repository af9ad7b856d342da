// Package pathutil validates the names used to build local paths.
package pathutil

import (
	"io/fs"
	"strings"
)

// ValidElem reports whether name is a single path element that is safe to
// join under a root on every platform.
func ValidElem(name string) bool {
	return name != "" && name != "." && name != ".." &&
		fs.ValidPath(name) && !strings.ContainsAny(name, `/\`)
}

// ValidRel reports whether p is a slash-separated relative path that stays
// under its root, with every element passing ValidElem.
func ValidRel(p string) bool {
	if !fs.ValidPath(p) || p == "." {
		return false
	}
	for elem := range strings.SplitSeq(p, "/") {
		if !ValidElem(elem) {
			return false
		}
	}
	return true
}
