package loader

import (
	"encoding/binary"
	"os"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/grafana/elfld/pkg/elf32"
)

// fileCache keeps parsed files across loads. A file is keyed by its path,
// size and modification time, so a rewritten file is parsed again.
type fileCache struct {
	files   *lru.Cache[uint64, *elf32.File]
	metrics *Metrics
}

func newFileCache(size int, metrics *Metrics) (*fileCache, error) {
	if size == 0 {
		return nil, nil
	}
	files, err := lru.New[uint64, *elf32.File](size)
	if err != nil {
		return nil, errors.Wrap(err, "file cache create")
	}
	return &fileCache{files: files, metrics: metrics}, nil
}

func fileKey(path string, fi os.FileInfo) uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], uint64(fi.Size()))
	binary.LittleEndian.PutUint64(b[8:], uint64(fi.ModTime().UnixNano()))
	h := xxhash.New()
	_, _ = h.WriteString(path)
	_, _ = h.Write(b[:])
	return h.Sum64()
}

func (c *fileCache) get(key uint64) (*elf32.File, bool) {
	if c == nil {
		return nil, false
	}
	f, ok := c.files.Get(key)
	if ok {
		c.metrics.FileCacheRequests.WithLabelValues("hit").Inc()
	} else {
		c.metrics.FileCacheRequests.WithLabelValues("miss").Inc()
	}
	return f, ok
}

func (c *fileCache) add(key uint64, f *elf32.File) {
	if c == nil {
		return
	}
	c.files.Add(key, f)
}

func (c *fileCache) len() int {
	if c == nil {
		return 0
	}
	return c.files.Len()
}
