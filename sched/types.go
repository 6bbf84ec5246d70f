// Package sched 实现 SMP 抢占式优先级调度核心：
// 线程表、每 CPU 就绪队列、全局睡眠队列、节拍驱动的抢占、
// 负载均衡与工作窃取。所有状态挂在显式的 Scheduler 上，
// 执行中的 CPU 编号作为参数穿过每个操作。
package sched

import (
	"sync/atomic"

	"github.com/Whoisraeen/Scarlett-OS-sub000/hal"
)

const (
	// MaxThreads 线程表容量；TID 单调分配,一个槽位一生只用一次
	MaxThreads = 256
	// MaxCPUs 支持的 CPU 数上限
	MaxCPUs = 256
	// NumPriorities 优先级层数,0 最低 127 最高
	NumPriorities = 128
	// StackSize 每线程内核栈字节数
	StackSize = 64 * 1024
	// TickHz 节拍频率,1 tick = 10ms
	TickHz = 100
	// DefaultQuantum 时间片长度(tick)
	DefaultQuantum = 10
	// DefaultBalanceInterval 负载均衡周期(tick)
	DefaultBalanceInterval = 100
	// DefaultBalanceThreshold 触发迁移的最小就绪数差
	DefaultBalanceThreshold = 2
	// stealLimit 窃取/均衡只扫描 [0, stealLimit) 的低半区,
	// 高优先级工作从不被动迁移
	stealLimit = NumPriorities / 2
)

// Priority 优先级,数值越大越先调度
type Priority uint8

// 命名优先级档位
const (
	PriorityIdle     Priority = 0
	PriorityLow      Priority = 32
	PriorityNormal   Priority = 64
	PriorityHigh     Priority = 96
	PriorityRealtime Priority = 127
)

// TID 线程号,存活期间唯一;0 永远无效
type TID uint64

// AffinityAny 线程可在任意 CPU 上运行
const AffinityAny int32 = -1

// State 线程状态
type State uint32

const (
	// StateReady 在某个就绪队列中等待派发
	StateReady State = iota
	// StateRunning 正在某个 CPU 上执行
	StateRunning
	// StateBlocked 在某个 CPU 的阻塞链表上等待唤醒
	StateBlocked
	// StateSleeping 在全局睡眠队列上等待到点
	StateSleeping
	// StateDead 已退出,终态
	StateDead
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateSleeping:
		return "sleeping"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

// Thread 可调度单元
// 存活线程任一时刻只属于一个容器：某条就绪队列、某条阻塞
// 链表、睡眠队列,或者是某个 CPU 的 current;摘链永远先于挂链。
type Thread struct {
	tid      TID
	name     string
	priority Priority
	state    atomic.Uint32
	affinity atomic.Int32
	cpuTime  atomic.Uint64
	ctx      *hal.Context
	stack    []byte

	// wakeTick 绝对唤醒节拍,仅在睡眠队列上有意义,
	// 读写都发生在睡眠队列锁的先后序里
	wakeTick uint64
}

// TID 线程号
func (t *Thread) TID() TID { return t.tid }

// Name 线程名
func (t *Thread) Name() string { return t.name }

// Priority 优先级,创建后不变
func (t *Thread) Priority() Priority { return t.priority }

// State 当前状态
func (t *Thread) State() State { return State(t.state.Load()) }

func (t *Thread) setState(s State) { t.state.Store(uint32(s)) }

// Affinity 亲和性,AffinityAny 或某个 CPU 编号
func (t *Thread) Affinity() int32 { return t.affinity.Load() }

// CPUTime 累计消耗的节拍数
func (t *Thread) CPUTime() uint64 { return t.cpuTime.Load() }

// LastCPU 最近一次被派发到的 CPU
func (t *Thread) LastCPU() uint32 { return t.ctx.LastCPU() }

// pinnedAway 线程是否被钉在 cpu 之外的别处
func (t *Thread) pinnedAway(cpu uint32) bool {
	aff := t.affinity.Load()
	return aff != AffinityAny && uint32(aff) != cpu
}
