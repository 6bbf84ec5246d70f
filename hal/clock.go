package hal

import "sync/atomic"

// Clock 节拍时间源，读数单调不减
type Clock interface {
	Ticks() uint64
}

// SimClock 手动推进的仿真时钟，测试和仿真运行都用它
type SimClock struct {
	ticks atomic.Uint64
}

// NewSimClock 创建读数为 0 的仿真时钟
func NewSimClock() *SimClock { return &SimClock{} }

// Ticks 当前节拍读数
func (c *SimClock) Ticks() uint64 { return c.ticks.Load() }

// Advance 推进 n 个节拍并返回新读数
func (c *SimClock) Advance(n uint64) uint64 { return c.ticks.Add(n) }
