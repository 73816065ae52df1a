package loader

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// LibraryResolver turns a DT_NEEDED name into the canonical path of the file
// to load.
type LibraryResolver interface {
	ResolveLibrary(name, exeDir string) (string, error)
}

// fsResolver looks in the executable's directory, then in each search path.
// Names containing a slash are taken as paths, relative to the executable's
// directory.
type fsResolver struct {
	fs          afero.Fs
	searchPaths []string
}

func NewLibraryResolver(fs afero.Fs, searchPaths []string) LibraryResolver {
	return &fsResolver{fs: fs, searchPaths: searchPaths}
}

func (r *fsResolver) ResolveLibrary(name, exeDir string) (string, error) {
	if name == "" {
		return "", errors.New("empty library name")
	}
	if strings.ContainsRune(name, '/') {
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(exeDir, p)
		}
		return r.check(canonicalPath(p), name)
	}
	dirs := append([]string{exeDir}, r.searchPaths...)
	for _, dir := range dirs {
		p := canonicalPath(filepath.Join(dir, name))
		ok, err := r.isFile(p)
		if err != nil {
			return "", err
		}
		if ok {
			return p, nil
		}
	}
	return "", errors.Errorf("%s not found in %s", name, strings.Join(dirs, ":"))
}

func (r *fsResolver) check(p, name string) (string, error) {
	ok, err := r.isFile(p)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.Errorf("%s not found", name)
	}
	return p, nil
}

func (r *fsResolver) isFile(p string) (bool, error) {
	fi, err := r.fs.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "stat %s", p)
	}
	return !fi.IsDir(), nil
}

// canonicalPath is the key of the loaded-object set. It is lexical: symbolic
// links are not followed.
func canonicalPath(p string) string {
	p = filepath.Clean(p)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
