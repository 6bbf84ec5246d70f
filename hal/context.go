// Package hal 收拢调度核心对机器的全部依赖：
// 上下文切换原语、节拍时钟、内核栈分配。
// 真实内核里这些由体系结构代码提供；这里给出把线程上下文
// 映射到 goroutine 的仿真实现，执行权通过容量为 1 的放行
// 通道交接。
package hal

import (
	"runtime"
	"sync/atomic"
)

// Context 一个线程保存下来的执行现场
// 调度器只持有引用并成对传给切换原语，从不关心内部。
type Context struct {
	permit  chan struct{}
	entry   func()
	started atomic.Bool
	done    atomic.Bool
	lastCPU atomic.Uint32
}

// NewContext 创建等待首次派发的上下文
// entry 是入口蹦床，首次拿到执行权时在独立 goroutine 里运行
func NewContext(entry func()) *Context {
	return &Context{
		permit: make(chan struct{}, 1),
		entry:  entry,
	}
}

// AdoptContext 把调用方 goroutine 自身登记成一个已在运行的上下文
// 各 CPU 的主循环天生就是该 CPU 空闲线程的执行体，用这个入口建其现场
func AdoptContext() *Context {
	c := &Context{permit: make(chan struct{}, 1)}
	c.started.Store(true)
	return c
}

// Finish 标记上下文已终结：之后一旦切出就不再恢复
func (c *Context) Finish() { c.done.Store(true) }

// Finished 上下文是否已终结
func (c *Context) Finished() bool { return c.done.Load() }

// SetLastCPU 记录最近一次被派发到的 CPU
func (c *Context) SetLastCPU(cpu uint32) { c.lastCPU.Store(cpu) }

// LastCPU 返回最近一次被派发到的 CPU
func (c *Context) LastCPU() uint32 { return c.lastCPU.Load() }

// dispatch 放行执行权，首次派发时启动承载 goroutine
func (c *Context) dispatch() {
	if c.started.CompareAndSwap(false, true) {
		go func() {
			<-c.permit
			c.entry()
		}()
	}
	c.permit <- struct{}{}
}

// Switcher 上下文切换原语
// Switch 恢复 next 并挂起 old；对调用方而言，调用要等 old
// 再次被派发才返回。old 已终结时调用永不返回。
type Switcher interface {
	Switch(old, next *Context)
}

// GoSwitcher 基于 goroutine 的切换实现
type GoSwitcher struct{}

// Switch 放行 next，然后挂起 old
func (GoSwitcher) Switch(old, next *Context) {
	if next != nil {
		next.dispatch()
	}
	if old == nil {
		return
	}
	if old.Finished() {
		// 线程已退出，执行流到此为止
		runtime.Goexit()
	}
	<-old.permit
}
