// Package localcache implements the bounded, inode-aware local file
// mirror: a byte-budgeted LRU deque of filenames where hardlinked
// aliases of the same content are charged once, keyed by inode.
//
// Grounded on perkeep-perkeep/pkg/lru's generic Cache (container/list +
// map bookkeeping, one process-wide mutex), generalized here from an
// entry-count bound to a byte-count bound with inode-aware accounting,
// per SPEC_FULL.md §4.3.
package localcache

import (
	"container/list"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cache is the bounded local mirror. It is safe for concurrent use.
//
// State mirrors SPEC_FULL.md §4.3 exactly: fnToElem maps a mirror-relative
// filename to its deque element (for O(1) touch/evict); inodeRefs and
// inodeBytes are keyed by inode number so that two filenames hardlinked
// to the same content are charged once; totalBytes is the running sum
// of inodeBytes over inodes with a positive refcount.
type Cache struct {
	root      string
	maxBytes  int64
	checkEvery time.Duration
	log       zerolog.Logger

	mu          sync.Mutex
	deque       *list.List // of *os.FileInfo-less string filenames, most-recent at back
	fnToElem    map[string]*list.Element
	fnToInode   map[string]uint64
	inodeRefs   map[uint64]int
	inodeBytes  map[uint64]int64
	totalBytes  int64
	checkedAt   time.Time
}

// New constructs a Cache rooted at root, bounded to maxBytes, with a
// periodic self-check interval of checkEvery (zero disables the
// background checker; callers invoke Reconcile manually in that case).
func New(root string, maxBytes int64, checkEvery time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		root:       root,
		maxBytes:   maxBytes,
		checkEvery: checkEvery,
		log:        log,
		deque:      list.New(),
		fnToElem:   make(map[string]*list.Element),
		fnToInode:  make(map[string]uint64),
		inodeRefs:  make(map[uint64]int),
		inodeBytes: make(map[uint64]int64),
	}
}

func (c *Cache) abs(fn string) string {
	return filepath.Join(c.root, filepath.FromSlash(fn))
}

// Add registers fn (relative to the mirror root) as the most-recently
// used entry, evicting the least-recently used entries first if the
// byte budget would otherwise be exceeded. fn must already exist on
// disk (the caller has just written or linked it in).
func (c *Cache) Add(fn string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(fn)
}

func (c *Cache) addLocked(fn string) error {
	if err := c.touchLocked(fn); err != nil {
		return err
	}
	// fn now sits at the tail, so evicting from the head while more than
	// one entry remains never evicts fn itself.
	for c.totalBytes > c.maxBytes && c.deque.Len() > 1 {
		c.popOldestLocked()
	}
	return nil
}

// touchLocked moves fn to the tail (most-recent) of the deque, creating
// an entry if absent, and refreshes its inode/byte accounting from
// stat(2). If the file is gone, its entry (if any) is purged instead.
func (c *Cache) touchLocked(fn string) error {
	fi, err := os.Stat(c.abs(fn))
	if os.IsNotExist(err) {
		c.purgeLocked(fn)
		return nil
	}
	if err != nil {
		return err
	}

	if el, ok := c.fnToElem[fn]; ok {
		c.deque.MoveToBack(el)
	} else {
		el := c.deque.PushBack(fn)
		c.fnToElem[fn] = el
	}

	ino := inodeOf(fi)
	prevIno, hadPrev := c.fnToInode[fn]
	if hadPrev && prevIno != ino {
		c.releaseInodeLocked(prevIno)
	}
	if !hadPrev || prevIno != ino {
		c.fnToInode[fn] = ino
		if c.inodeRefs[ino] == 0 {
			c.inodeBytes[ino] = fi.Size()
			c.totalBytes += fi.Size()
		}
		c.inodeRefs[ino]++
	}
	return nil
}

// Contains reports whether fn is a live mirror entry, touching its
// recency. A file that no longer exists on disk is purged and reported
// as absent.
func (c *Cache) Contains(fn string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.fnToElem[fn]; !ok {
		return false
	}
	if err := c.touchLocked(fn); err != nil {
		return false
	}
	_, ok := c.fnToElem[fn]
	return ok
}

// PopOldest evicts the least-recently-used entry, best-effort unlinking
// its file, and releasing its inode's byte accounting once its
// refcount reaches zero.
func (c *Cache) PopOldest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.popOldestLocked()
}

func (c *Cache) popOldestLocked() {
	front := c.deque.Front()
	if front == nil {
		return
	}
	fn := front.Value.(string)
	os.Remove(c.abs(fn))
	c.purgeLocked(fn)
}

// purgeLocked removes fn's bookkeeping without touching the filesystem.
func (c *Cache) purgeLocked(fn string) {
	if el, ok := c.fnToElem[fn]; ok {
		c.deque.Remove(el)
		delete(c.fnToElem, fn)
	}
	if ino, ok := c.fnToInode[fn]; ok {
		delete(c.fnToInode, fn)
		c.releaseInodeLocked(ino)
	}
}

func (c *Cache) releaseInodeLocked(ino uint64) {
	if c.inodeRefs[ino] <= 0 {
		return
	}
	c.inodeRefs[ino]--
	if c.inodeRefs[ino] == 0 {
		c.totalBytes -= c.inodeBytes[ino]
		delete(c.inodeRefs, ino)
		delete(c.inodeBytes, ino)
	}
}

// Size returns total_bytes, the sum of sizes over inodes with a live
// reference.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}

// Reconcile walks the deque, re-stats every entry, and corrects drift
// between the mirror's bookkeeping and the filesystem — SPEC_FULL.md
// §4.3's periodic self-check, callable directly by tests or by a
// background goroutine driven by checkEvery.
func (c *Cache) Reconcile() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fns := make([]string, 0, c.deque.Len())
	for el := c.deque.Front(); el != nil; el = el.Next() {
		fns = append(fns, el.Value.(string))
	}
	for _, fn := range fns {
		if err := c.touchLocked(fn); err != nil {
			c.log.Warn().Str("file", fn).Err(err).Msg("localcache: reconcile stat failed")
		}
	}
	c.checkedAt = time.Now()
}

// RunReconcileLoop blocks, reconciling every checkEvery until stop is
// closed. A zero checkEvery makes this a no-op.
func (c *Cache) RunReconcileLoop(stop <-chan struct{}) {
	if c.checkEvery <= 0 {
		return
	}
	t := time.NewTicker(c.checkEvery)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.Reconcile()
		}
	}
}

// --- remotepath.Mirror ---

// Create opens a fresh temp file under the mirror root, ready for
// Download to stream a remote artifact's bytes into ahead of Commit.
func (c *Cache) Create(key string) (*os.File, error) {
	if err := os.MkdirAll(c.root, 0o700); err != nil {
		return nil, err
	}
	return os.CreateTemp(c.root, "dl-*.tmp")
}

// Commit renames tmpPath into place at the mirror-relative path derived
// from key and registers it with Add.
func (c *Cache) Commit(key, tmpPath string, n int64) error {
	fn := mirrorName(key)
	dst := c.abs(fn)
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(fn)
}

// Path returns the mirror's local path for key, if resident.
func (c *Cache) Path(key string) (string, bool) {
	fn := mirrorName(key)
	if !c.Contains(fn) {
		return "", false
	}
	return c.abs(fn), true
}

// mirrorName maps a remote-path key (a "scheme://body" string) to a
// mirror-relative filename by converting its slashes to the OS path
// separator; the "://" delimiter is otherwise kept, and abs's
// filepath.Join collapses its doubled slash.
func mirrorName(key string) string {
	return filepath.FromSlash(key)
}
