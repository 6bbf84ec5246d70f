package sched

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Whoisraeen/Scarlett-OS-sub000/hal"
)

// fakeSwitcher 只记录切换次数,不真的转移执行权
// 让调度决策可以在单 goroutine 里同步驱动和断言。
type fakeSwitcher struct {
	switches int
}

func (f *fakeSwitcher) Switch(old, next *hal.Context) {
	f.switches++
}

func noop(any) {}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestScheduler(t *testing.T, cpus int) (*Scheduler, *fakeSwitcher, *hal.SimClock) {
	t.Helper()
	sw := &fakeSwitcher{}
	clk := hal.NewSimClock()
	s, err := New(Config{
		CPUs:     cpus,
		Switcher: sw,
		Clock:    clk,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("New 失败: %v", err)
	}
	for i := uint32(0); i < uint32(cpus); i++ {
		s.InitCPU(i)
	}
	return s, sw, clk
}

// TestNewValidatesCPUs CPU 数必须在 [1, MaxCPUs]
func TestNewValidatesCPUs(t *testing.T) {
	for _, n := range []int{0, -1, MaxCPUs + 1} {
		if _, err := New(Config{CPUs: n, Logger: testLogger()}); !errors.Is(err, ErrBadCPU) {
			t.Errorf("CPUs=%d 应返回 ErrBadCPU, 实际 %v", n, err)
		}
	}
	if _, err := New(Config{CPUs: 1, Logger: testLogger()}); err != nil {
		t.Errorf("CPUs=1 不应失败: %v", err)
	}
}

// TestInitCPUSetsIdle 上线后 current 是空闲线程
func TestInitCPUSetsIdle(t *testing.T) {
	s, _, _ := newTestScheduler(t, 2)

	for cpu := uint32(0); cpu < 2; cpu++ {
		cur := s.Current(cpu)
		if cur == nil {
			t.Fatalf("cpu %d 上线后 current 不应为 nil", cpu)
		}
		if cur.State() != StateRunning {
			t.Errorf("空闲线程应为 Running, 实际 %v", cur.State())
		}
		if !s.Snapshot()[cpu].Idle {
			t.Errorf("cpu %d 应在跑空闲线程", cpu)
		}
	}
	// 重复上线是容忍的空操作
	s.InitCPU(0)
}

// TestCreateAssignsUniqueTIDs TID 唯一且非零
func TestCreateAssignsUniqueTIDs(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)

	seen := make(map[TID]bool)
	for i := 0; i < 10; i++ {
		tid, err := s.Create(0, noop, nil, PriorityNormal, "worker")
		if err != nil {
			t.Fatalf("Create 失败: %v", err)
		}
		if tid == 0 {
			t.Fatal("TID 不应为 0")
		}
		if seen[tid] {
			t.Fatalf("TID %d 重复", tid)
		}
		seen[tid] = true
	}
	if s.ThreadCount() != 10 {
		t.Errorf("线程表应有 10 个, 实际 %d", s.ThreadCount())
	}
}

// TestCreateEnqueuesOnCallingCPU 创建落在调用 CPU 的队列上
func TestCreateEnqueuesOnCallingCPU(t *testing.T) {
	s, _, _ := newTestScheduler(t, 2)

	if _, err := s.Create(1, noop, nil, PriorityNormal, "w1"); err != nil {
		t.Fatalf("Create 失败: %v", err)
	}
	snap := s.Snapshot()
	if snap[0].Ready != 0 || snap[1].Ready != 1 {
		t.Errorf("线程应只在 cpu1 的队列上, 实际 %+v", snap)
	}
}

// TestCreateBadPriority 超界优先级拒绝创建
func TestCreateBadPriority(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)

	_, err := s.Create(0, noop, nil, Priority(200), "bad")
	if !errors.Is(err, ErrBadPriority) {
		t.Errorf("应返回 ErrBadPriority, 实际 %v", err)
	}
}

// TestCreateTableFull 表满创建失败,栈不漏
func TestCreateTableFull(t *testing.T) {
	pool := hal.NewStackPool(MaxThreads)
	sw := &fakeSwitcher{}
	s, err := New(Config{CPUs: 1, Switcher: sw, Stacks: pool, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New 失败: %v", err)
	}
	s.InitCPU(0)

	for i := 0; i < MaxThreads-1; i++ {
		if _, err := s.Create(0, noop, nil, PriorityNormal, "filler"); err != nil {
			t.Fatalf("第 %d 次 Create 不应失败: %v", i+1, err)
		}
	}
	_, err = s.Create(0, noop, nil, PriorityNormal, "overflow")
	if !errors.Is(err, ErrTableFull) {
		t.Fatalf("表满应返回 ErrTableFull, 实际 %v", err)
	}
	// 失败路径把已分配的栈还回去了
	if pool.InUse() != MaxThreads-1 {
		t.Errorf("存活栈数应为 %d, 实际 %d", MaxThreads-1, pool.InUse())
	}
}

// TestCreateStackExhaustion 栈池耗尽时不烧表槽
func TestCreateStackExhaustion(t *testing.T) {
	pool := hal.NewStackPool(1)
	sw := &fakeSwitcher{}
	s, err := New(Config{CPUs: 1, Switcher: sw, Stacks: pool, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New 失败: %v", err)
	}
	s.InitCPU(0)

	if _, err := s.Create(0, noop, nil, PriorityNormal, "first"); err != nil {
		t.Fatalf("首个 Create 失败: %v", err)
	}
	_, err = s.Create(0, noop, nil, PriorityNormal, "second")
	if !errors.Is(err, hal.ErrOutOfMemory) {
		t.Fatalf("栈耗尽应返回 ErrOutOfMemory, 实际 %v", err)
	}
	if s.ThreadCount() != 1 {
		t.Errorf("失败的创建不应占表槽, 计数应为 1, 实际 %d", s.ThreadCount())
	}
}

// TestPriorityOrder 高优先级总在低优先级之前派发
func TestPriorityOrder(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)

	low, _ := s.Create(0, noop, nil, Priority(1), "low")
	mid, _ := s.Create(0, noop, nil, Priority(5), "mid")
	high, _ := s.Create(0, noop, nil, Priority(10), "high")

	for _, want := range []TID{high, mid, low} {
		s.Schedule(0)
		cur := s.Current(0)
		if cur.TID() != want {
			t.Fatalf("应派发 tid %d, 实际 tid %d (%s)", want, cur.TID(), cur.Name())
		}
		t.Logf("派发 %s (tid %d, prio %d)", cur.Name(), cur.TID(), cur.Priority())
		// 阻塞掉当前线程,让下一级有机会上场
		s.Block(0)
	}
	if !s.Snapshot()[0].Idle {
		t.Error("全部阻塞后应落回空闲线程")
	}
}

// TestRoundRobinSameLevel 同级线程轮转,六次调度转两圈
func TestRoundRobinSameLevel(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)

	t1, _ := s.Create(0, noop, nil, PriorityNormal, "t1")
	t2, _ := s.Create(0, noop, nil, PriorityNormal, "t2")
	t3, _ := s.Create(0, noop, nil, PriorityNormal, "t3")

	want := []TID{t1, t2, t3, t1, t2, t3}
	for i, w := range want {
		s.Schedule(0)
		if got := s.Current(0).TID(); got != w {
			t.Fatalf("第 %d 次调度应派发 tid %d, 实际 tid %d", i+1, w, got)
		}
	}
}

// TestYieldSoleThreadStaysPut 唯一线程让出后原地继续,不真切换
func TestYieldSoleThreadStaysPut(t *testing.T) {
	s, sw, _ := newTestScheduler(t, 1)

	tid, _ := s.Create(0, noop, nil, PriorityNormal, "solo")
	s.Schedule(0)
	if s.Current(0).TID() != tid {
		t.Fatal("线程应已上场")
	}
	before := sw.switches

	s.Yield(0)
	if s.Current(0).TID() != tid {
		t.Error("唯一线程 Yield 后应还是 current")
	}
	if s.Current(0).State() != StateRunning {
		t.Errorf("应回到 Running, 实际 %v", s.Current(0).State())
	}
	if sw.switches != before {
		t.Errorf("挑回自己不应发生真切换, 切换数 %d -> %d", before, sw.switches)
	}
	if s.Snapshot()[0].Ready != 0 {
		t.Error("current 不应同时留在就绪队列里")
	}
}

// TestExitRemovesAndPanicsOnReturn 退出注销线程;控制流再回来就是致命错
func TestExitRemovesAndPanicsOnReturn(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)

	tid, _ := s.Create(0, noop, nil, PriorityNormal, "doomed")
	s.Schedule(0)
	if s.Current(0).TID() != tid {
		t.Fatal("线程应已上场")
	}

	func() {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("假切换器下 Exit 返回应触发 panic")
			}
			if r != "sched: thread exit returned" {
				t.Errorf("panic 内容不对: %v", r)
			}
		}()
		s.Exit(0)
	}()

	if s.ThreadCount() != 0 {
		t.Errorf("退出后线程表应为空, 实际 %d", s.ThreadCount())
	}
	if !s.Snapshot()[0].Idle {
		t.Error("退出后应落回空闲线程")
	}
	if s.Lookup(tid) != nil {
		t.Error("退出的 TID 不应再查得到")
	}
}

// TestExitOfIdlePanics 空闲线程不能退出
func TestExitOfIdlePanics(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)

	defer func() {
		if recover() == nil {
			t.Error("空闲线程 Exit 应 panic")
		}
	}()
	s.Exit(0)
}

// TestQuantumPreemption 时间片耗尽置抢占标志,安全点才真切换
func TestQuantumPreemption(t *testing.T) {
	s, sw, clk := newTestScheduler(t, 1)

	t1, _ := s.Create(0, noop, nil, PriorityNormal, "t1")
	t2, _ := s.Create(0, noop, nil, PriorityNormal, "t2")
	s.Schedule(0)
	if s.Current(0).TID() != t1 {
		t.Fatal("首个上场的应是 t1")
	}
	before := sw.switches

	// 差一拍不到时间片,标志不该置位
	for i := 0; i < DefaultQuantum-1; i++ {
		clk.Advance(1)
		s.Tick(0)
		s.CheckReschedule(0)
	}
	if s.Current(0).TID() != t1 || sw.switches != before {
		t.Fatal("时间片未到不应发生切换")
	}

	clk.Advance(1)
	s.Tick(0)
	if !s.needResched[0].Load() {
		t.Fatal("满时间片后应置改选标志")
	}
	if s.Current(0).TID() != t1 {
		t.Fatal("Tick 自己绝不切换")
	}

	s.CheckReschedule(0)
	if s.Current(0).TID() != t2 {
		t.Errorf("安全点改选应轮到 t2, 实际 tid %d", s.Current(0).TID())
	}
	if s.needResched[0].Load() {
		t.Error("改选后标志应已清除")
	}
	if got := s.Lookup(t1).CPUTime(); got != DefaultQuantum {
		t.Errorf("t1 应记满 %d 拍, 实际 %d", DefaultQuantum, got)
	}
}

// TestTickChargesOnlyRunningThread 空闲线程不记账
func TestTickChargesOnlyRunningThread(t *testing.T) {
	s, _, clk := newTestScheduler(t, 1)

	clk.Advance(1)
	s.Tick(0) // 空转拍,没人记账

	tid, _ := s.Create(0, noop, nil, PriorityNormal, "w")
	s.Schedule(0)
	clk.Advance(1)
	s.Tick(0)

	if got := s.Lookup(tid).CPUTime(); got != 1 {
		t.Errorf("线程应记 1 拍, 实际 %d", got)
	}
}

// TestBlockUnblock 阻塞线程被任何 CPU 捞回,落在解除方的队列
func TestBlockUnblock(t *testing.T) {
	s, _, _ := newTestScheduler(t, 2)

	tid, _ := s.Create(0, noop, nil, PriorityNormal, "sleeper")
	s.Schedule(0)
	th := s.Lookup(tid)

	s.Block(0)
	if th.State() != StateBlocked {
		t.Fatalf("应为 Blocked, 实际 %v", th.State())
	}
	if !s.Snapshot()[0].Idle {
		t.Fatal("阻塞后 cpu0 应空转")
	}

	// 从 cpu1 解除,线程迁到 cpu1
	s.Unblock(1, th)
	if th.State() != StateReady {
		t.Errorf("解除后应为 Ready, 实际 %v", th.State())
	}
	snap := s.Snapshot()
	if snap[0].Ready != 0 || snap[1].Ready != 1 {
		t.Errorf("线程应落在 cpu1 的队列, 实际 %+v", snap)
	}

	// 重复解除是容忍的空操作
	s.Unblock(1, th)
	if s.Snapshot()[1].Ready != 1 {
		t.Error("重复 Unblock 不应造成重复入队")
	}

	s.Schedule(1)
	if s.Current(1).TID() != tid {
		t.Error("cpu1 应派发被捞回的线程")
	}
}

// TestUnblockNil 空指针解除是空操作
func TestUnblockNil(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	s.Unblock(0, nil)
}

// TestCheckRescheduleNoFlag 没有标志就什么都不做
func TestCheckRescheduleNoFlag(t *testing.T) {
	s, sw, _ := newTestScheduler(t, 1)

	s.Create(0, noop, nil, PriorityNormal, "w")
	before := sw.switches
	s.CheckReschedule(0)
	if sw.switches != before {
		t.Error("标志未置位时 CheckReschedule 不应调度")
	}
}

// TestCheckCPUPanics CPU 编号超界直接炸
func TestCheckCPUPanics(t *testing.T) {
	s, _, _ := newTestScheduler(t, 2)

	defer func() {
		if recover() == nil {
			t.Error("越界 CPU 应 panic")
		}
	}()
	s.Tick(7)
}

// TestSnapshot 观测数据对得上
func TestSnapshot(t *testing.T) {
	s, _, _ := newTestScheduler(t, 2)

	a, _ := s.Create(0, noop, nil, PriorityNormal, "a")
	s.Create(0, noop, nil, PriorityNormal, "b")
	s.Schedule(0)

	snap := s.Snapshot()
	if snap[0].Current != a || snap[0].Idle {
		t.Errorf("cpu0 应在跑 tid %d, 实际 %+v", a, snap[0])
	}
	if snap[0].Ready != 1 {
		t.Errorf("cpu0 就绪数应为 1, 实际 %d", snap[0].Ready)
	}
	if !snap[1].Idle || snap[1].Ready != 0 {
		t.Errorf("cpu1 应空转, 实际 %+v", snap[1])
	}
}
