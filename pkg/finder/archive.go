package finder

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// jmod files are zip archives behind a 4-byte "JM\x01\x00" header, with
// classes under classes/.
var jmodMagic = []byte{'J', 'M', 1, 0}

// Archive finds classes in a jar or jmod file. The file is read and indexed
// on first use; concurrent first lookups share one open.
type Archive struct {
	Path string

	group singleflight.Group
	mu    sync.RWMutex
	index map[string]*zip.File
	err   error
}

// NewArchive returns an Archive for path. Nothing is read until Find.
func NewArchive(path string) *Archive {
	return &Archive{Path: path}
}

func (a *Archive) String() string { return a.Path }

// Open reads and indexes the archive if that has not happened yet.
func (a *Archive) Open() error {
	a.mu.RLock()
	done := a.index != nil || a.err != nil
	err := a.err
	a.mu.RUnlock()
	if done {
		return err
	}

	_, err, _ = a.group.Do("open", func() (any, error) {
		index, err := a.load()
		a.mu.Lock()
		a.index, a.err = index, err
		a.mu.Unlock()
		return nil, err
	})
	return err
}

func (a *Archive) load() (map[string]*zip.File, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", a.Path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("archive: reading %s: %w", a.Path, err)
	}

	prefix := ""
	if bytes.HasPrefix(data, jmodMagic) {
		data = data[len(jmodMagic):]
		prefix = "classes/"
	}

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive: opening zip %s: %w", a.Path, err)
	}

	index := make(map[string]*zip.File, len(r.File))
	for _, file := range r.File {
		name, ok := strings.CutPrefix(file.Name, prefix)
		if !ok || !strings.HasSuffix(name, ".class") {
			continue
		}
		index[strings.TrimSuffix(name, ".class")] = file
	}
	log.Debugf("indexed %d classes in %s", len(index), filepath.Base(a.Path))
	return index, nil
}

func (a *Archive) Find(name string) ([]byte, bool) {
	if err := a.Open(); err != nil {
		log.Warningf("%v", err)
		return nil, false
	}

	a.mu.RLock()
	file, ok := a.index[name]
	a.mu.RUnlock()
	if !ok {
		return nil, false
	}

	rc, err := file.Open()
	if err != nil {
		log.Warningf("archive: opening %s in %s: %v", file.Name, a.Path, err)
		return nil, false
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		log.Warningf("archive: reading %s in %s: %v", file.Name, a.Path, err)
		return nil, false
	}
	return data, true
}
