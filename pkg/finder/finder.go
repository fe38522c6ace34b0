// Package finder locates class bytes by slash-delimited binary name in
// directories, jar and jmod archives, and in-memory tables.
package finder

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("gojvm.finder")

// Finder returns the bytes of the class with the given binary name, such as
// "java/lang/Object".
type Finder interface {
	Find(name string) ([]byte, bool)
}

// Dir finds classes under a directory root laid out by package.
type Dir struct {
	Root string
}

func (d Dir) Find(name string) ([]byte, bool) {
	path := filepath.Join(d.Root, filepath.FromSlash(name)+".class")
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warningf("dir: reading %s: %v", path, err)
		}
		return nil, false
	}
	return data, true
}

func (d Dir) String() string { return d.Root }

// Path searches its entries in order.
type Path []Finder

func (p Path) Find(name string) ([]byte, bool) {
	for _, f := range p {
		if data, ok := f.Find(name); ok {
			return data, true
		}
	}
	return nil, false
}

// ParsePath builds a Path from class path entries. Entries ending in .jar,
// .zip or .jmod are archives; anything else is a directory.
func ParsePath(entries []string) Path {
	p := make(Path, 0, len(entries))
	for _, e := range entries {
		if e == "" {
			continue
		}
		switch strings.ToLower(filepath.Ext(e)) {
		case ".jar", ".zip", ".jmod":
			p = append(p, NewArchive(e))
		default:
			p = append(p, Dir{Root: e})
		}
	}
	return p
}

// SplitList splits a class path string on the OS list separator.
func SplitList(classPath string) []string {
	return filepath.SplitList(classPath)
}

// Map is an in-memory finder keyed by binary name.
type Map map[string][]byte

func (m Map) Find(name string) ([]byte, bool) {
	data, ok := m[name]
	return data, ok
}
