package sched

import "errors"

// 调用方用 errors.Is 判别;包内统一用 %w 包上下文再返回
var (
	// ErrTableFull 线程表已满(TID 空间一次性耗尽,不回收)
	ErrTableFull = errors.New("sched: thread table full")
	// ErrBadTID TID 为 0 或超界
	ErrBadTID = errors.New("sched: invalid thread id")
	// ErrNoSuchThread 线程表里查无此线程
	ErrNoSuchThread = errors.New("sched: no such thread")
	// ErrBadCPU CPU 编号不在 [0, ncpu) 且不是 AffinityAny
	ErrBadCPU = errors.New("sched: invalid cpu")
	// ErrBadPriority 优先级超出 [0, NumPriorities)
	ErrBadPriority = errors.New("sched: invalid priority")
)
