package ecs

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"time"
)

type lockMode uint8

const (
	lockRead lockMode = iota
	lockWrite
)

// heldLocks tracks which type locks each goroutine currently holds through an
// access guard. It exists for exactly one purpose: a goroutine that already
// holds a lock on a type and asks for a conflicting lock on the same type
// would deadlock against itself on the RWMutex. That case fails fast with
// ErrLockReentrant instead.
type heldLocks struct {
	mu sync.Mutex
	// goroutine id -> entry -> outstanding read count / write flag
	reads  map[uint64]map[*typeEntry]int
	writes map[uint64]map[*typeEntry]int
}

func newHeldLocks() *heldLocks {
	return &heldLocks{
		reads:  make(map[uint64]map[*typeEntry]int),
		writes: make(map[uint64]map[*typeEntry]int),
	}
}

// check reports ErrLockReentrant when taking the requested lock on this
// goroutine would self-deadlock: write-after-anything, or read-after-write.
// Read-after-read is shared and allowed.
func (hl *heldLocks) check(entry *typeEntry, mode lockMode) error {
	id := goid()
	hl.mu.Lock()
	defer hl.mu.Unlock()

	if hl.writes[id][entry] > 0 {
		return ErrLockReentrant
	}
	if mode == lockWrite && hl.reads[id][entry] > 0 {
		return ErrLockReentrant
	}
	return nil
}

// add records the acquisition and returns the owning goroutine id. The guard
// keeps the id so a release from any goroutine drops the right ledger entry.
func (hl *heldLocks) add(entry *typeEntry, mode lockMode) uint64 {
	id := goid()
	hl.mu.Lock()
	defer hl.mu.Unlock()

	table := hl.reads
	if mode == lockWrite {
		table = hl.writes
	}
	if table[id] == nil {
		table[id] = make(map[*typeEntry]int)
	}
	table[id][entry]++
	return id
}

func (hl *heldLocks) drop(entry *typeEntry, mode lockMode, id uint64) {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	table := hl.reads
	if mode == lockWrite {
		table = hl.writes
	}
	if held := table[id]; held != nil {
		if held[entry] <= 1 {
			delete(held, entry)
		} else {
			held[entry]--
		}
		if len(held) == 0 {
			delete(table, id)
		}
	}
}

var goroutinePrefix = []byte("goroutine ")

// goid extracts the current goroutine id from the stack header. The header
// format ("goroutine N [...]") has been stable across Go releases.
func goid() uint64 {
	buf := make([]byte, 32)
	n := runtime.Stack(buf, false)
	buf = bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}

// lockWithTimeout polls TryLock with backoff until the deadline. Returns
// whether the exclusive lock was taken.
func lockWithTimeout(mu *sync.RWMutex, timeout time.Duration) bool {
	if mu.TryLock() {
		return true
	}
	if timeout <= 0 {
		return false
	}

	deadline := time.Now().Add(timeout)
	backoff := 10 * time.Microsecond
	for {
		if mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(backoff)
		if backoff < time.Millisecond {
			backoff *= 2
		}
	}
}
