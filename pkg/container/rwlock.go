package container

import "math"

const writeLocked = math.MinInt32

// RWLock is a reader/writer lock implemented over a single atomic integer,
// the same representation as the original renderer's rwlock: zero means
// unlocked, a positive count is the number of active readers, and
// math.MinInt32 marks an exclusive writer. try_write_lock and the
// upgrade/downgrade pair are lock-free CAS loops over that one word.
type RWLock struct {
	state Atomic32
}

func NewRWLock() *RWLock { return &RWLock{} }

// ReadLock blocks until a read slot is available. It never blocks behind a
// pending writer that has not yet acquired the lock - same as the source,
// which only spins while the counter is already negative.
func (l *RWLock) ReadLock() {
	for {
		if l.state.Inc() > 0 {
			return
		}
		for l.state.Read() < 0 {
			pause()
		}
	}
}

func (l *RWLock) ReadUnlock() { l.state.Dec() }

// TryWriteLock attempts to acquire the lock for writing without blocking.
func (l *RWLock) TryWriteLock() bool {
	return l.state.CAS(0, writeLocked)
}

func (l *RWLock) WriteLock() {
	for {
		if l.state.CAS(0, writeLocked) {
			return
		}
		for l.state.Read() != 0 {
			pause()
		}
	}
}

func (l *RWLock) WriteUnlock() { l.state.Swap(0) }

// UpgradeLock releases a previously-held read lock and reacquires the lock
// for writing. Between the two steps other writers may intervene.
func (l *RWLock) UpgradeLock() {
	l.ReadUnlock()
	l.WriteLock()
}

// DowngradeLock converts a held write lock directly into a single read
// lock without a window where the lock is fully unlocked.
func (l *RWLock) DowngradeLock() { l.state.Swap(1) }

func (l *RWLock) IsReadLocked() bool  { return l.state.Read() > 0 }
func (l *RWLock) IsWriteLocked() bool { return l.state.Read() < 0 }
func (l *RWLock) IsLocked() bool      { return l.state.Read() != 0 }

// pause yields the CPU to the scheduler instead of busy-spinning forever;
// the source used an _mm_pause intrinsic, Go has no portable equivalent so
// a Gosched is the closest non-blocking backoff.
func pause() { yield() }
