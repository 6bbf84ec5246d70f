package sched

import "github.com/Whoisraeen/Scarlett-OS-sub000/spinlock"

// threadTable 全局线程表
// 槽位直接按 TID 索引;TID 从 1 单调分配,不回收,
// 槽位 0 空置,所以一个调度器一生最多创建 MaxThreads-1 个线程。
type threadTable struct {
	lock    spinlock.SpinLock
	slots   [MaxThreads]*Thread
	nextTID TID
	count   int
}

func newThreadTable() *threadTable {
	return &threadTable{nextTID: 1}
}

// add 分配 TID 并登记线程,表满返回 ErrTableFull
func (tb *threadTable) add(t *Thread, cpu uint32) (TID, error) {
	tb.lock.Lock(cpu)
	defer tb.lock.Unlock()

	if tb.nextTID >= MaxThreads {
		return 0, ErrTableFull
	}
	tid := tb.nextTID
	tb.nextTID++
	t.tid = tid
	tb.slots[tid] = t
	tb.count++
	return tid, nil
}

// lookup 按 TID 查线程,不存在返回 nil
func (tb *threadTable) lookup(tid TID, cpu uint32) *Thread {
	if tid == 0 || tid >= MaxThreads {
		return nil
	}
	tb.lock.Lock(cpu)
	defer tb.lock.Unlock()
	return tb.slots[tid]
}

// remove 注销线程;重复注销容忍为空操作,返回 false 由调用方记日志
func (tb *threadTable) remove(tid TID, cpu uint32) bool {
	if tid == 0 || tid >= MaxThreads {
		return false
	}
	tb.lock.Lock(cpu)
	defer tb.lock.Unlock()

	if tb.slots[tid] == nil {
		return false
	}
	tb.slots[tid] = nil
	tb.count--
	return true
}

// size 当前登记的线程数
func (tb *threadTable) size(cpu uint32) int {
	tb.lock.Lock(cpu)
	defer tb.lock.Unlock()
	return tb.count
}
