package sched

import (
	"math/bits"
	"sync/atomic"

	"github.com/Whoisraeen/Scarlett-OS-sub000/spinlock"
)

// runQueue 单个 CPU 的调度队列
// ready 数组、占用位图、nready、blocked 都由 lock 保护;
// current 和 idle 是原子指针,节拍路径可以无锁读。
type runQueue struct {
	lock spinlock.SpinLock

	// ready 每个优先级一条 FIFO
	ready [NumPriorities]tqueue
	// bitmap 优先级占用位图,bit p ⇔ ready[p] 非空
	bitmap [2]uint64
	// nready 就绪线程总数,负载均衡按它比较
	nready int

	// blocked 从本 CPU 阻塞的线程
	blocked tqueue

	current atomic.Pointer[Thread]
	idle    atomic.Pointer[Thread]
}

// enqueue 置 Ready 并追加到所属优先级的队尾,调用方持锁
func (q *runQueue) enqueue(t *Thread) {
	if t == q.idle.Load() {
		panic("sched: enqueue of idle thread")
	}
	t.setState(StateReady)
	p := uint(t.priority)
	q.ready[p].push(t)
	q.bitmap[p>>6] |= 1 << (p & 63)
	q.nready++
}

// dequeueAt 弹出指定优先级的队头,调用方持锁
func (q *runQueue) dequeueAt(level int) *Thread {
	t := q.ready[level].pop()
	if t == nil {
		return nil
	}
	if q.ready[level].empty() {
		q.bitmap[level>>6] &^= 1 << (uint(level) & 63)
	}
	q.nready--
	return t
}

// removeAt 从指定优先级摘掉指定线程,调用方持锁
func (q *runQueue) removeAt(level int, t *Thread) bool {
	if !q.ready[level].remove(t) {
		return false
	}
	if q.ready[level].empty() {
		q.bitmap[level>>6] &^= 1 << (uint(level) & 63)
	}
	q.nready--
	return true
}

// highest 最高的非空优先级,全空返回 -1,调用方持锁
func (q *runQueue) highest() int {
	if w := q.bitmap[1]; w != 0 {
		return 63 + bits.Len64(w)
	}
	if w := q.bitmap[0]; w != 0 {
		return bits.Len64(w) - 1
	}
	return -1
}

// takeEligible 在低半区从低到高找第一个没被钉在 dest 之外的
// 线程并摘下;高优先级 [stealLimit, NumPriorities) 从不被动迁移。
// 调用方持锁。
func (q *runQueue) takeEligible(dest uint32) *Thread {
	// stealLimit 恰好盖满位图第 0 字
	w := q.bitmap[0]
	for w != 0 {
		level := bits.TrailingZeros64(w)
		w &^= 1 << uint(level)
		for _, t := range q.ready[level].items {
			if t.pinnedAway(dest) {
				continue
			}
			q.removeAt(level, t)
			return t
		}
	}
	return nil
}
