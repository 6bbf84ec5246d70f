package hal

import (
	"errors"
	"sync"
)

// ErrOutOfMemory 栈配额耗尽
var ErrOutOfMemory = errors.New("hal: out of stack memory")

// StackAllocator 内核栈分配器
type StackAllocator interface {
	// Alloc 取一块 size 字节的栈，配额耗尽返回 ErrOutOfMemory
	Alloc(size int) ([]byte, error)
	// Free 归还栈，之后的 Alloc 可以复用
	Free(stack []byte)
	// InUse 当前未归还的栈数
	InUse() int
}

// StackPool 带配额的栈池
// limit 限制同时存活的栈数，归还的栈按尺寸缓存复用。
type StackPool struct {
	mu    sync.Mutex
	free  [][]byte
	inUse int
	limit int
}

// NewStackPool 创建最多允许 limit 块栈同时存活的池
// limit <= 0 表示不限量。
func NewStackPool(limit int) *StackPool {
	return &StackPool{limit: limit}
}

// Alloc 分配一块栈，优先复用空闲块
func (p *StackPool) Alloc(size int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limit > 0 && p.inUse >= p.limit {
		return nil, ErrOutOfMemory
	}
	for i, s := range p.free {
		if cap(s) >= size {
			p.free = append(p.free[:i], p.free[i+1:]...)
			p.inUse++
			return s[:size], nil
		}
	}
	p.inUse++
	return make([]byte, size), nil
}

// Free 归还一块栈
func (p *StackPool) Free(stack []byte) {
	if stack == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse--
	p.free = append(p.free, stack)
}

// InUse 当前未归还的栈数
func (p *StackPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}
