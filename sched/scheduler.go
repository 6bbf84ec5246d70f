package sched

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Whoisraeen/Scarlett-OS-sub000/hal"
)

// Config 调度器参数,零值字段取默认
type Config struct {
	// CPUs CPU 数量,必须在 [1, MaxCPUs]
	CPUs int
	// Quantum 时间片(tick),0 取 DefaultQuantum
	Quantum uint32
	// BalanceInterval 负载均衡周期(tick),0 取默认
	BalanceInterval uint64
	// BalanceThreshold 迁移阈值,0 取默认
	BalanceThreshold int
	// Clock 节拍时钟,nil 取新建的 SimClock
	Clock hal.Clock
	// Stacks 内核栈分配器,nil 取容量 MaxThreads 的栈池
	Stacks hal.StackAllocator
	// Switcher 上下文切换原语,nil 取 GoSwitcher
	Switcher hal.Switcher
	// Logger nil 取 logrus 标准记录器
	Logger logrus.FieldLogger
	// LockStats 为各把调度锁登记争用统计
	LockStats bool
}

// Scheduler 调度器全部状态的落点,不设任何包级可变状态
// 执行中的 CPU 编号由调用方作为参数传入每个操作。
type Scheduler struct {
	ncpu             uint32
	quantum          uint32
	balanceInterval  uint64
	balanceThreshold int

	clock    hal.Clock
	stacks   hal.StackAllocator
	switcher hal.Switcher
	log      logrus.FieldLogger
	migLog   *rate.Limiter

	table  *threadTable
	sleepq *sleepQueue
	rq     []*runQueue

	// tickCount 每 CPU 的时间片计数,只有节拍源一个写者
	tickCount []uint32
	// needResched 每 CPU 的改选标志,节拍置位,CPU 自己消费
	needResched []atomic.Bool
	// stealNext 每个小偷的受害者轮转起点
	stealNext []uint32
	// lastBalance 上次均衡的节拍,只在协调者路径上动
	lastBalance uint64
}

// New 构建调度器;队列壳子全部就位,CPU 要再由 InitCPU 逐个上线
func New(cfg Config) (*Scheduler, error) {
	if cfg.CPUs < 1 || cfg.CPUs > MaxCPUs {
		return nil, fmt.Errorf("sched: new: %d cpus: %w", cfg.CPUs, ErrBadCPU)
	}
	if cfg.Quantum == 0 {
		cfg.Quantum = DefaultQuantum
	}
	if cfg.BalanceInterval == 0 {
		cfg.BalanceInterval = DefaultBalanceInterval
	}
	if cfg.BalanceThreshold <= 0 {
		cfg.BalanceThreshold = DefaultBalanceThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = hal.NewSimClock()
	}
	if cfg.Stacks == nil {
		cfg.Stacks = hal.NewStackPool(MaxThreads)
	}
	if cfg.Switcher == nil {
		cfg.Switcher = hal.GoSwitcher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	s := &Scheduler{
		ncpu:             uint32(cfg.CPUs),
		quantum:          cfg.Quantum,
		balanceInterval:  cfg.BalanceInterval,
		balanceThreshold: cfg.BalanceThreshold,
		clock:            cfg.Clock,
		stacks:           cfg.Stacks,
		switcher:         cfg.Switcher,
		log:              cfg.Logger,
		migLog:           rate.NewLimiter(rate.Every(200*time.Millisecond), 10),
		table:            newThreadTable(),
		sleepq:           &sleepQueue{},
		rq:               make([]*runQueue, cfg.CPUs),
		tickCount:        make([]uint32, cfg.CPUs),
		needResched:      make([]atomic.Bool, cfg.CPUs),
		stealNext:        make([]uint32, cfg.CPUs),
	}
	for i := range s.rq {
		s.rq[i] = &runQueue{}
	}
	if cfg.LockStats {
		for i, rq := range s.rq {
			rq.lock.AttachStat(fmt.Sprintf("runq-%d", i))
		}
		s.table.lock.AttachStat("thread-table")
		s.sleepq.lock.AttachStat("sleep-queue")
	}
	return s, nil
}

// InitCPU 让一个 CPU 上线：建空闲线程并设为 current
// 空闲线程不进线程表,TID 直接用 CPU 编号,永不入就绪队列。
func (s *Scheduler) InitCPU(cpu uint32) {
	s.checkCPU(cpu)
	rq := s.rq[cpu]
	if rq.idle.Load() != nil {
		s.log.WithField("cpu", cpu).Warn("cpu already online")
		return
	}
	idle := &Thread{
		tid:      TID(cpu),
		name:     fmt.Sprintf("idle-%d", cpu),
		priority: PriorityIdle,
	}
	idle.state.Store(uint32(StateRunning))
	idle.affinity.Store(int32(cpu))
	idle.ctx = hal.AdoptContext()
	idle.ctx.SetLastCPU(cpu)

	rq.idle.Store(idle)
	rq.current.Store(idle)
	s.log.WithField("cpu", cpu).Info("cpu online")
}

// ============ 线程生命周期 ============

// Create 建线程：先栈后 TID,哪步失败都不留痕;就绪到调用 CPU
// 的队列上,创建时不做负载感知的落位。
func (s *Scheduler) Create(cpu uint32, entry func(arg any), arg any, prio Priority, name string) (TID, error) {
	s.checkCPU(cpu)
	if entry == nil {
		panic("sched: nil thread entry")
	}
	if prio >= NumPriorities {
		return 0, fmt.Errorf("sched: create %q: priority %d: %w", name, prio, ErrBadPriority)
	}
	if name == "" {
		name = "unnamed"
	}

	stack, err := s.stacks.Alloc(StackSize)
	if err != nil {
		return 0, fmt.Errorf("sched: create %q: %w", name, err)
	}
	t := &Thread{
		name:     name,
		priority: prio,
		stack:    stack,
	}
	t.state.Store(uint32(StateReady))
	t.affinity.Store(AffinityAny)
	// 蹦床：首次派发时运行 entry,entry 返回就替它退出
	t.ctx = hal.NewContext(func() {
		entry(arg)
		s.Exit(t.ctx.LastCPU())
	})

	tid, err := s.table.add(t, cpu)
	if err != nil {
		s.stacks.Free(stack)
		return 0, fmt.Errorf("sched: create %q: %w", name, err)
	}

	rq := s.rq[cpu]
	rq.lock.Lock(cpu)
	rq.enqueue(t)
	rq.lock.Unlock()

	s.log.WithFields(logrus.Fields{
		"tid":  tid,
		"name": name,
		"cpu":  cpu,
		"prio": prio,
	}).Info("thread created")
	return tid, nil
}

// Exit 结束当前线程,永不返回
// 栈不随退出同步回收,是已知限制。
func (s *Scheduler) Exit(cpu uint32) {
	s.checkCPU(cpu)
	rq := s.rq[cpu]
	cur := rq.current.Load()
	if cur == nil || cur == rq.idle.Load() {
		panic("sched: exit of idle thread")
	}

	cur.setState(StateDead)
	if !s.table.remove(cur.tid, cpu) {
		s.log.WithFields(logrus.Fields{"tid": cur.tid, "cpu": cpu}).Warn("exit of untracked thread")
	}
	cur.ctx.Finish()
	s.log.WithFields(logrus.Fields{
		"tid":     cur.tid,
		"name":    cur.name,
		"cpu":     cpu,
		"cputime": cur.CPUTime(),
	}).Info("thread exited")

	s.Schedule(cpu)
	panic("sched: thread exit returned")
}

// Yield 主动让出当前 CPU
func (s *Scheduler) Yield(cpu uint32) {
	s.Schedule(cpu)
}

// Sleep 睡 ms 毫秒;0 退化成 Yield
// 唤醒精度是一个节拍：可以晚一拍,绝不早醒。
func (s *Scheduler) Sleep(cpu uint32, ms uint64) {
	s.checkCPU(cpu)
	if ms == 0 {
		s.Yield(cpu)
		return
	}
	rq := s.rq[cpu]
	cur := rq.current.Load()
	if cur == nil || cur == rq.idle.Load() {
		panic("sched: sleep of idle thread")
	}

	ticks := ms * TickHz / 1000
	if ticks == 0 {
		ticks = 1
	}
	cur.wakeTick = s.clock.Ticks() + ticks
	cur.setState(StateSleeping)
	s.sleepq.add(cur, cpu)

	s.log.WithFields(logrus.Fields{
		"tid":  cur.tid,
		"cpu":  cpu,
		"wake": cur.wakeTick,
	}).Debug("thread sleeping")
	s.Schedule(cpu)
}

// Block 把当前线程挂上本 CPU 的阻塞链表并让出
// 只有 Unblock 能把它捞回来。
func (s *Scheduler) Block(cpu uint32) {
	s.checkCPU(cpu)
	rq := s.rq[cpu]
	cur := rq.current.Load()
	if cur == nil || cur == rq.idle.Load() {
		panic("sched: block of idle thread")
	}

	cur.setState(StateBlocked)
	rq.lock.Lock(cpu)
	rq.blocked.pushFront(cur)
	rq.lock.Unlock()

	s.log.WithFields(logrus.Fields{"tid": cur.tid, "cpu": cpu}).Debug("thread blocked")
	s.Schedule(cpu)
}

// Unblock 把阻塞线程捞回就绪;线程落在解除方 CPU 的队列上,
// 不一定回它原来的 CPU。任何 CPU 都可以调用。
func (s *Scheduler) Unblock(cpu uint32, t *Thread) {
	s.checkCPU(cpu)
	if t == nil {
		return
	}
	if t.State() != StateBlocked {
		s.log.WithFields(logrus.Fields{
			"tid":   t.tid,
			"state": t.State().String(),
		}).Warn("unblock of non-blocked thread")
		return
	}

	// 逐个 CPU 找,锁一把放一把
	for i := uint32(0); i < s.ncpu; i++ {
		brq := s.rq[i]
		brq.lock.Lock(cpu)
		found := brq.blocked.remove(t)
		brq.lock.Unlock()
		if !found {
			continue
		}

		rq := s.rq[cpu]
		rq.lock.Lock(cpu)
		rq.enqueue(t)
		rq.lock.Unlock()
		s.log.WithFields(logrus.Fields{
			"tid":  t.tid,
			"from": i,
			"cpu":  cpu,
		}).Debug("thread unblocked")
		return
	}
	s.log.WithField("tid", t.tid).Warn("unblock: thread not on any blocked list")
}

// Current cpu 上正在运行的线程,未上线时为 nil
func (s *Scheduler) Current(cpu uint32) *Thread {
	s.checkCPU(cpu)
	return s.rq[cpu].current.Load()
}

// ============ 调度主路径 ============

// Schedule 在 cpu 上改选线程
// 还在 Running 的 current 先降级回队尾(空闲线程除外),再挑下一个;
// 挑回自己就只补状态不切换。锁在真正切换前一定放掉,
// 上下文切换从不发生在任何自旋锁里。
func (s *Scheduler) Schedule(cpu uint32) {
	s.checkCPU(cpu)
	rq := s.rq[cpu]
	idle := rq.idle.Load()
	if idle == nil {
		panic(fmt.Sprintf("sched: cpu %d not initialized", cpu))
	}

	rq.lock.Lock(cpu)
	old := rq.current.Load()
	if old != idle && old.State() == StateRunning {
		rq.enqueue(old)
	}

	next := s.pickNext(cpu, rq)
	if next == old {
		next.setState(StateRunning)
		rq.lock.Unlock()
		return
	}

	next.setState(StateRunning)
	next.ctx.SetLastCPU(cpu)
	rq.current.Store(next)
	rq.lock.Unlock()

	s.switcher.Switch(old.ctx, next.ctx)
}

// pickNext 从高到低找第一个就绪线程
// 全空就放锁去偷,偷着了重扫,还是空就落回空闲线程。
// 进出都持有 rq 的锁。
func (s *Scheduler) pickNext(cpu uint32, rq *runQueue) *Thread {
	if level := rq.highest(); level >= 0 {
		return rq.dequeueAt(level)
	}

	rq.lock.Unlock()
	stolen := s.steal(cpu)
	rq.lock.Lock(cpu)

	if stolen {
		if level := rq.highest(); level >= 0 {
			return rq.dequeueAt(level)
		}
	}
	return rq.idle.Load()
}

// ============ 节拍与抢占 ============

// Tick 每个 CPU 每节拍进来一次,运行在"中断上下文"：
// 只记账和置标志,绝不在这里切换。CPU 0 兼任协调者,
// 额外做睡眠唤醒扫描和负载均衡。
func (s *Scheduler) Tick(cpu uint32) {
	s.checkCPU(cpu)
	rq := s.rq[cpu]
	idle := rq.idle.Load()
	if idle == nil {
		return
	}

	if cur := rq.current.Load(); cur != nil && cur != idle {
		cur.cpuTime.Add(1)
	}

	if cpu == 0 {
		now := s.clock.Ticks()
		s.wakeSleepers(now)
		s.Balance(now)
	}

	s.tickCount[cpu]++
	if s.tickCount[cpu] >= s.quantum {
		s.tickCount[cpu] = 0
		s.needResched[cpu].Store(true)
	}
}

// wakeSleepers 把所有到点的线程搬回就绪
// 唤醒一律落在 CPU 0 的队列上,不管它在哪睡的。
func (s *Scheduler) wakeSleepers(now uint64) {
	due := s.sleepq.takeDue(now, 0)
	if len(due) == 0 {
		return
	}

	rq := s.rq[0]
	rq.lock.Lock(0)
	for _, t := range due {
		rq.enqueue(t)
	}
	rq.lock.Unlock()

	for _, t := range due {
		s.log.WithFields(logrus.Fields{
			"tid":  t.tid,
			"tick": now,
		}).Debug("thread woke")
	}
}

// CheckReschedule 在安全点消费改选标志
// 标志是节拍置的,真正的切换只发生在这里,绝不在中断里。
func (s *Scheduler) CheckReschedule(cpu uint32) {
	s.checkCPU(cpu)
	if s.needResched[cpu].CompareAndSwap(true, false) {
		s.Schedule(cpu)
	}
}

func (s *Scheduler) checkCPU(cpu uint32) {
	if cpu >= s.ncpu {
		panic(fmt.Sprintf("sched: cpu %d out of range (ncpu=%d)", cpu, s.ncpu))
	}
}

// ============ 观测 ============

// CPUStat 一个 CPU 的即时调度状态
type CPUStat struct {
	CPU     uint32
	Ready   int
	Current TID
	Name    string
	Idle    bool
}

// CPUs CPU 数量
func (s *Scheduler) CPUs() uint32 { return s.ncpu }

// Now 当前节拍读数
func (s *Scheduler) Now() uint64 { return s.clock.Ticks() }

// ThreadCount 线程表里登记的线程数
func (s *Scheduler) ThreadCount() int { return s.table.size(0) }

// SleepCount 睡眠队列上的线程数
func (s *Scheduler) SleepCount() int { return s.sleepq.size(0) }

// Lookup 按 TID 查线程,查不到返回 nil
func (s *Scheduler) Lookup(tid TID) *Thread { return s.table.lookup(tid, 0) }

// Snapshot 逐个 CPU 抓取就绪数和当前线程
// 各 CPU 的读数不在同一瞬间,只作观测用。
func (s *Scheduler) Snapshot() []CPUStat {
	out := make([]CPUStat, s.ncpu)
	for i := uint32(0); i < s.ncpu; i++ {
		rq := s.rq[i]
		rq.lock.Lock(0)
		ready := rq.nready
		rq.lock.Unlock()

		st := CPUStat{CPU: i, Ready: ready}
		if cur := rq.current.Load(); cur != nil {
			st.Current = cur.tid
			st.Name = cur.name
			st.Idle = cur == rq.idle.Load()
		}
		out[i] = st
	}
	return out
}
