package spinlock

import (
	"runtime"
	"sync/atomic"
)

// RWLock 写者优先的读写自旋锁
// 有写者持有或排队时，新读者一律等待，避免写者被连续的读者饿死。
// 零值即可用。
type RWLock struct {
	readers atomic.Int32  // 当前读者数
	writer  atomic.Uint32 // 写者持有标志
	pending atomic.Int32  // 排队中的写者数
}

// RLock 获取读锁
func (l *RWLock) RLock() {
	for {
		if l.writer.Load() == unlocked && l.pending.Load() == 0 {
			l.readers.Add(1)
			if l.writer.Load() == unlocked {
				return
			}
			// 与写者撞上，退出来重新等
			l.readers.Add(-1)
		}
		runtime.Gosched()
	}
}

// TryRLock 单次尝试获取读锁，不自旋
func (l *RWLock) TryRLock() bool {
	if l.writer.Load() != unlocked || l.pending.Load() != 0 {
		return false
	}
	l.readers.Add(1)
	if l.writer.Load() != unlocked {
		l.readers.Add(-1)
		return false
	}
	return true
}

// RUnlock 释放读锁
func (l *RWLock) RUnlock() {
	if l.readers.Add(-1) < 0 {
		panic("spinlock: RUnlock without RLock")
	}
}

// WLock 获取写锁，等存量读者全部退出后才返回
func (l *RWLock) WLock() {
	l.pending.Add(1)
	for !l.writer.CompareAndSwap(unlocked, locked) {
		runtime.Gosched()
	}
	l.pending.Add(-1)
	for l.readers.Load() != 0 {
		runtime.Gosched()
	}
}

// WUnlock 释放写锁
func (l *RWLock) WUnlock() {
	if l.writer.Load() == unlocked {
		panic("spinlock: WUnlock without WLock")
	}
	l.writer.Store(unlocked)
}
