// Package spinlock 提供忙等互斥的自旋锁
//
// 调度器里各共享结构（就绪队列、线程表、睡眠队列）的临界区都极短，
// 每次只动几个指针，用挂起式互斥锁得不偿失。竞争失败时调用
// runtime.Gosched 让出处理器再继续探测，相当于内核自旋时的 pause。
package spinlock

import (
	"runtime"
	"sync/atomic"
)

const (
	unlocked uint32 = 0
	locked   uint32 = 1
)

// NoOwner 表示锁当前没有持有者
const NoOwner = ^uint32(0)

// SpinLock 测试-置位自旋锁
// 零值即为未锁定状态，可直接使用。
// 不可重入：同一 CPU 重复加锁会自旋死锁。
type SpinLock struct {
	state atomic.Uint32
	owner atomic.Uint32 // 持有者 CPU 编号，仅诊断用，未持有期间无意义
	stat  *LockStat
}

// Lock 自旋直到获得锁，cpu 为调用方所在 CPU 的编号
func (l *SpinLock) Lock(cpu uint32) {
	var spins uint64
	for !l.state.CompareAndSwap(unlocked, locked) {
		spins++
		runtime.Gosched()
	}
	l.owner.Store(cpu)
	if l.stat != nil {
		l.stat.record(spins)
	}
}

// TryLock 单次尝试加锁，不自旋
func (l *SpinLock) TryLock(cpu uint32) bool {
	if !l.state.CompareAndSwap(unlocked, locked) {
		return false
	}
	l.owner.Store(cpu)
	if l.stat != nil {
		l.stat.record(0)
	}
	return true
}

// Unlock 释放锁，先清掉持有者标记再放开
func (l *SpinLock) Unlock() {
	if l.state.Load() == unlocked {
		panic("spinlock: unlock of unlocked lock")
	}
	l.owner.Store(NoOwner)
	l.state.Store(unlocked)
}

// IsLocked 返回锁当前是否被持有
func (l *SpinLock) IsLocked() bool {
	return l.state.Load() == locked
}

// Owner 返回持有者 CPU 编号，仅在持有期间有意义
func (l *SpinLock) Owner() uint32 {
	return l.owner.Load()
}

// AttachStat 给锁登记竞争统计并返回统计对象
// 需要在锁投入使用之前调用
func (l *SpinLock) AttachStat(name string) *LockStat {
	l.stat = registerStat(name)
	return l.stat
}
