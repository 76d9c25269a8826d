package vfs

import (
	"path"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const zipMIME = "application/zip"

// ArchivePredicate decides if a (non-directory) node is a recognized archive.
type ArchivePredicate func(Node) bool

var archiveExtensions = []string{".zip", ".jar", ".war"}

// ExtensionPredicate recognizes archives by their (case-insensitive)
// extension, which is either of ".zip", ".jar" or ".war".
func ExtensionPredicate(n Node) bool {
	if n.IsDir() {
		return false
	}

	return slices.Contains(archiveExtensions, strings.ToLower(path.Ext(n.Name())))
}

// SniffingPredicate recognizes archives by their extension and additionally
// detects local files of the ZIP family by their content signature.
func SniffingPredicate(n Node) bool {
	if ExtensionPredicate(n) {
		return true
	}
	if n.IsDir() || n.Kind() != KindLocal {
		return false
	}

	mt, err := mimetype.DetectFile(n.FullPath())
	if err != nil {
		return false
	}

	for m := mt; m != nil; m = m.Parent() {
		if m.Is(zipMIME) {
			return true
		}
	}

	return false
}
