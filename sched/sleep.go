package sched

import "github.com/Whoisraeen/Scarlett-OS-sub000/spinlock"

// sleepQueue 全系统共用的睡眠队列,无序链表加一把锁
// 入队走 Sleep,出队只有协调者 CPU 的唤醒扫描。
type sleepQueue struct {
	lock spinlock.SpinLock
	list tqueue
}

// add 挂入睡眠队列
func (q *sleepQueue) add(t *Thread, cpu uint32) {
	q.lock.Lock(cpu)
	defer q.lock.Unlock()
	q.list.pushFront(t)
}

// takeDue 摘下所有到点的线程并返回;只摘链,入就绪队列由
// 调用方在放掉本锁之后做,两把锁从不同时持有。
func (q *sleepQueue) takeDue(now uint64, cpu uint32) []*Thread {
	q.lock.Lock(cpu)
	defer q.lock.Unlock()

	var due []*Thread
	kept := q.list.items[:0]
	for _, t := range q.list.items {
		if now >= t.wakeTick {
			due = append(due, t)
		} else {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(q.list.items); i++ {
		q.list.items[i] = nil
	}
	q.list.items = kept
	return due
}

// size 睡眠中的线程数
func (q *sleepQueue) size(cpu uint32) int {
	q.lock.Lock(cpu)
	defer q.lock.Unlock()
	return q.list.size()
}
