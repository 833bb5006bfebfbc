package diskimage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// BundleExtension marks an application bundle directory.
const BundleExtension = ".app"

// FindBundle returns the application bundle inside root. The immediate children
// are checked first, then the whole tree. With several candidates the shallowest
// wins, ties broken by lexical order of the relative path. Symlinks are never
// followed, so nothing outside root is ever returned.
func FindBundle(root string) (string, error) {
	fsys := os.DirFS(root)

	for _, pattern := range []string{"*" + BundleExtension, "**/*" + BundleExtension} {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithNoFollow())
		if err != nil {
			return "", fmt.Errorf("search %s: %w", root, err)
		}

		if bundle := pickBundle(root, matches); bundle != "" {
			return filepath.Join(root, filepath.FromSlash(bundle)), nil
		}
	}

	return "", ErrBundleNotFound
}

// pickBundle keeps real directory matches and applies the tie-break.
func pickBundle(root string, matches []string) string {
	candidates := matches[:0]

	for _, match := range matches {
		if !isLocalDir(root, match) {
			continue
		}

		candidates = append(candidates, match)
	}

	if len(candidates) == 0 {
		return ""
	}

	sort.Slice(candidates, func(i, j int) bool {
		di, dj := strings.Count(candidates[i], "/"), strings.Count(candidates[j], "/")
		if di != dj {
			return di < dj
		}

		return candidates[i] < candidates[j]
	})

	return candidates[0]
}

// isLocalDir reports whether match is a directory reached from root without
// passing through a symlink at any path component.
func isLocalDir(root, match string) bool {
	path := root

	for _, part := range strings.Split(match, "/") {
		path = filepath.Join(path, part)

		info, err := os.Lstat(path)
		if err != nil || info.Mode()&fs.ModeSymlink != 0 {
			return false
		}
	}

	info, err := os.Lstat(path)

	return err == nil && info.IsDir()
}
