package cachetable

// cachefile.go implements C3: the Cachefile handle and the
// CachefileList's three sorted collections (active-by-filenum,
// active-by-fileid, stale-by-fileid), plus filenum issuance and the
// per-cachefile background-job barrier (spec §3).
//
// Cachefile itself is not generic over the pair value type V: many
// cachefiles of potentially different V instantiations could share a
// single process (each Cachetable[V] is independently constructed), so
// the pair-chain head is kept as an opaque `any` and type-asserted back
// to *Pair[V] only inside pairlist.go, which is the sole place that
// needs to walk the chain.
//
// © 2025 cachetable authors. MIT License.

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Voskan/cachetable/internal/bjm"
)

// FileNum is the cache-wide unique identifier for an open cachefile,
// issued monotonically from a reserved counter.
type FileNum uint32

// FileID identifies the underlying OS file (device, inode), used to
// detect reopens of the same inode.
type FileID struct {
	Device uint64
	Inode  uint64
}

// Cachefile is one logical open file: its OS descriptor, user-data
// callbacks, background-job barrier and pair-chain membership.
type Cachefile struct {
	filenum FileNum
	hashID  uint32
	fileID  FileID
	path    string

	fd       *int // the OS file descriptor, opaque to the cache core
	userdata any

	callbacks CachefileCallbacks

	bjm *bjm.BJM

	pairHead      any // *Pair[V], set by the owning pairList
	pairHeadMu    sync.Mutex
	numPairs      int64

	forCheckpoint atomic.Bool
	unlinkOnClose atomic.Bool

	closed atomic.Bool
	errMu  sync.Mutex
	err    error
}

func (cf *Cachefile) pairHeadAny() any {
	cf.pairHeadMu.Lock()
	defer cf.pairHeadMu.Unlock()
	return cf.pairHead
}

func (cf *Cachefile) setPairHead(p any) {
	cf.pairHeadMu.Lock()
	cf.pairHead = p
	cf.pairHeadMu.Unlock()
}

// FileNum returns the cachefile's cache-wide unique number.
func (cf *Cachefile) FileNum() FileNum { return cf.filenum }

// HashID returns the per-open hash salt this cachefile's pairs were
// addressed with, needed by callers that compute a FullHash themselves
// (e.g. when choosing a key inside GetKeyAndFullHash).
func (cf *Cachefile) HashID() uint32 { return cf.hashID }

// FileID returns the OS-level identity this cachefile was opened on.
func (cf *Cachefile) FileID() FileID { return cf.fileID }

// Path returns the path the cachefile was opened with.
func (cf *Cachefile) Path() string { return cf.path }

// NumPairs returns the number of pairs currently on this cachefile's
// chain.
func (cf *Cachefile) NumPairs() int64 {
	cf.pairHeadMu.Lock()
	defer cf.pairHeadMu.Unlock()
	return cf.numPairs
}

// markError stores a resource error on the cachefile, to be surfaced on
// the next foreground operation that consults it (spec §7).
func (cf *Cachefile) markError(err error) {
	cf.errMu.Lock()
	cf.err = err
	cf.errMu.Unlock()
}

// Err returns the last stored resource error, if any.
func (cf *Cachefile) Err() error {
	cf.errMu.Lock()
	defer cf.errMu.Unlock()
	return cf.err
}

/* ---------------- cachefile list ---------------- */

// cachefileList owns the three sorted collections and the next-filenum
// counter (spec §3, C3).
type cachefileList struct {
	activeByFilenum *sortedCachefiles
	activeByFileID  *sortedCachefiles // keyed by fileIDKey(fileID)
	staleByFileID   *sortedCachefiles

	nextFilenum atomic.Uint32
}

func newCachefileList() *cachefileList {
	return &cachefileList{
		activeByFilenum: newSortedCachefiles(),
		activeByFileID:  newSortedCachefiles(),
		staleByFileID:   newSortedCachefiles(),
	}
}

func fileIDKey(id FileID) uint64 {
	return id.Device<<32 ^ id.Inode
}

// issueFilenum returns the next monotonically increasing FileNum.
func (cl *cachefileList) issueFilenum() FileNum {
	return FileNum(cl.nextFilenum.Add(1))
}

// openFd creates (or revives from the stale set) a Cachefile for path,
// assigning it a fresh hashID and, unless requestedFilenum is non-zero,
// a freshly issued FileNum.
func (cl *cachefileList) openFd(path string, id FileID, requestedFilenum FileNum, cbs CachefileCallbacks) (*Cachefile, error) {
	if requestedFilenum != 0 {
		if _, ok := cl.activeByFilenum.find(uint64(requestedFilenum)); ok {
			return nil, ErrAlreadyOpen
		}
	}
	if stale, ok := cl.staleByFileID.find(fileIDKey(id)); ok {
		cl.staleByFileID.remove(fileIDKey(id))
		stale.hashID = newHashID()
		if requestedFilenum != 0 {
			stale.filenum = requestedFilenum
		} else {
			stale.filenum = cl.issueFilenum()
		}
		stale.callbacks = cbs
		stale.closed.Store(false)
		cl.activeByFilenum.insert(uint64(stale.filenum), stale)
		cl.activeByFileID.insert(fileIDKey(id), stale)
		return stale, nil
	}

	fn := requestedFilenum
	if fn == 0 {
		fn = cl.issueFilenum()
	}
	cf := &Cachefile{
		filenum:   fn,
		hashID:    newHashID(),
		fileID:    id,
		path:      path,
		callbacks: cbs,
		bjm:       bjm.New(),
	}
	cl.activeByFilenum.insert(uint64(fn), cf)
	cl.activeByFileID.insert(fileIDKey(id), cf)
	return cf, nil
}

// cachefileOfFilenum implements the spec's cachefile_of_filenum lookup.
func (cl *cachefileList) cachefileOfFilenum(fn FileNum) (*Cachefile, error) {
	if cf, ok := cl.activeByFilenum.find(uint64(fn)); ok {
		return cf, nil
	}
	return nil, ErrFileNumNotFound
}

// closeCachefile begins close: it moves cf from active to stale (if it
// still has pairs and unlink_on_close is false) or drops it entirely.
// Callers must have already drained cf's BJM and run close_userdata
// before calling this.
func (cl *cachefileList) closeCachefile(ctx context.Context, cf *Cachefile) error {
	cl.activeByFilenum.remove(uint64(cf.filenum))
	cl.activeByFileID.remove(fileIDKey(cf.fileID))
	cf.closed.Store(true)

	if cf.NumPairs() > 0 && !cf.unlinkOnClose.Load() {
		cl.staleByFileID.insert(fileIDKey(cf.fileID), cf)
	}
	if cf.callbacks.FreeUserdata != nil {
		cf.callbacks.FreeUserdata(cf)
	}
	return nil
}

var hashIDCounter atomic.Uint32

// newHashID issues a fresh per-open hash salt (spec §3: "a fresh
// hash_id is issued per open").
func newHashID() uint32 {
	return hashIDCounter.Add(1)
}

func (cf *Cachefile) String() string {
	return fmt.Sprintf("cachefile{filenum=%d path=%q}", cf.filenum, cf.path)
}
