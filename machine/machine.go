// Package machine 把调度核心接上"硬件"的仿真机器：
// 每个 CPU 一条 goroutine 充当空闲循环,一条节拍 goroutine 按
// 固定周期推时钟并向每个 CPU 投递节拍。相当于内核里把调度器
// 挂到时钟中断和各核空闲线程上的那层胶水。
package machine

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/Whoisraeen/Scarlett-OS-sub000/hal"
	"github.com/Whoisraeen/Scarlett-OS-sub000/sched"
)

// Machine 一台跑着调度器的仿真多核机器
type Machine struct {
	cfg   Config
	sched *sched.Scheduler
	clock *hal.SimClock
	log   *logrus.Logger

	group    *errgroup.Group
	stop     chan struct{}
	stopOnce sync.Once
}

// New 按配置组一台机器,还没通电;Start 才开跑
func New(cfg Config) (*Machine, error) {
	cfg = cfg.sanitize(logrus.StandardLogger())

	log := logrus.New()
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	clk := hal.NewSimClock()
	s, err := sched.New(sched.Config{
		CPUs:             cfg.CPUs,
		Quantum:          cfg.Quantum,
		BalanceInterval:  cfg.BalanceInterval,
		BalanceThreshold: cfg.BalanceThreshold,
		Clock:            clk,
		Logger:           log,
		LockStats:        cfg.LockStats,
	})
	if err != nil {
		return nil, fmt.Errorf("machine: new: %w", err)
	}

	return &Machine{
		cfg:   cfg,
		sched: s,
		clock: clk,
		log:   log,
		stop:  make(chan struct{}),
	}, nil
}

// Scheduler 底下的调度器,观测和直接操作都走它
func (m *Machine) Scheduler() *sched.Scheduler { return m.sched }

// Start 通电：CPU 逐个上线,全部就位后节拍才开始走
func (m *Machine) Start() {
	m.group = &errgroup.Group{}

	var online sync.WaitGroup
	online.Add(m.cfg.CPUs)
	for i := 0; i < m.cfg.CPUs; i++ {
		cpu := uint32(i)
		m.group.Go(func() error {
			return m.cpuLoop(cpu, &online)
		})
	}
	online.Wait()

	m.group.Go(m.tickLoop)
	m.log.WithFields(logrus.Fields{
		"cpus":    m.cfg.CPUs,
		"tick_ms": m.cfg.TickMs,
	}).Info("machine started")
}

// cpuLoop 一个 CPU 的空闲循环
// 这条 goroutine 就是该 CPU 空闲线程的执行体：被切走时在
// 放行通道上挂起,空闲线程再被派发时从原地继续。
func (m *Machine) cpuLoop(cpu uint32, online *sync.WaitGroup) error {
	if m.cfg.PinLoops {
		pinLoop(cpu, m.log)
	}
	m.sched.InitCPU(cpu)
	online.Done()

	for {
		select {
		case <-m.stop:
			return nil
		default:
		}
		m.sched.CheckReschedule(cpu)
		runtime.Gosched()
	}
}

// tickLoop 节拍源：推一格时钟,再给每个 CPU 进一拍
func (m *Machine) tickLoop() error {
	tk := time.NewTicker(time.Duration(m.cfg.TickMs) * time.Millisecond)
	defer tk.Stop()

	for {
		select {
		case <-m.stop:
			return nil
		case <-tk.C:
			m.clock.Advance(1)
			for cpu := uint32(0); cpu < m.sched.CPUs(); cpu++ {
				m.sched.Tick(cpu)
			}
		}
	}
}

// Stop 断电并等所有 CPU 循环和节拍源收工
// 还在睡眠或阻塞的线程不再会醒,它们的 goroutine 随进程回收;
// 要干净收尾,先等线程都退完(WaitIdle)再停机。
func (m *Machine) Stop() error {
	m.stopOnce.Do(func() { close(m.stop) })
	err := m.group.Wait()
	m.log.Info("machine stopped")
	return err
}

// WaitIdle 轮询等到线程表清空
func (m *Machine) WaitIdle(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for m.sched.ThreadCount() > 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("machine: %d threads still alive after %v", m.sched.ThreadCount(), timeout)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// Spawn 起一个线程,按名字哈希挑一个 CPU 落位
// 机器外没有"调用 CPU"可言,哈希让同名负载的落位可复现。
func (m *Machine) Spawn(name string, prio sched.Priority, fn func(*Env)) (sched.TID, error) {
	cpu := uint32(xxh3.HashString(name) % uint64(m.sched.CPUs()))
	return m.spawn(cpu, name, prio, fn)
}

// SpawnOn 指定 CPU 起线程
func (m *Machine) SpawnOn(cpu uint32, name string, prio sched.Priority, fn func(*Env)) (sched.TID, error) {
	if cpu >= m.sched.CPUs() {
		return 0, fmt.Errorf("machine: spawn %q on cpu %d: %w", name, cpu, sched.ErrBadCPU)
	}
	return m.spawn(cpu, name, prio, fn)
}

// Unblock 机器外解除阻塞,线程落在协调者 CPU 上
func (m *Machine) Unblock(t *sched.Thread) {
	m.sched.Unblock(0, t)
}

func (m *Machine) spawn(cpu uint32, name string, prio sched.Priority, fn func(*Env)) (sched.TID, error) {
	if fn == nil {
		return 0, fmt.Errorf("machine: spawn %q: nil body", name)
	}
	// 线程要等拿到自己的表项才能进入正体
	ready := make(chan *sched.Thread, 1)
	entry := func(any) {
		t := <-ready
		fn(&Env{m: m, t: t})
	}
	tid, err := m.sched.Create(cpu, entry, nil, prio, name)
	if err != nil {
		return 0, fmt.Errorf("machine: spawn %q: %w", name, err)
	}
	ready <- m.sched.Lookup(tid)
	return tid, nil
}

// Env 线程正体拿到的运行环境,所有操作都以线程当下
// 所在的 CPU 为准;线程只会在这些调用点上被切走。
type Env struct {
	m *Machine
	t *sched.Thread
}

// Thread 自己的表项
func (e *Env) Thread() *sched.Thread { return e.t }

// CPU 此刻运行在哪个 CPU 上
func (e *Env) CPU() uint32 { return e.t.LastCPU() }

// Yield 主动让出
func (e *Env) Yield() { e.m.sched.Yield(e.CPU()) }

// Sleep 睡 ms 毫秒(按节拍折算,只晚不早)
func (e *Env) Sleep(ms uint64) { e.m.sched.Sleep(e.CPU(), ms) }

// Block 阻塞自己,等别人 Unblock
func (e *Env) Block() { e.m.sched.Block(e.CPU()) }

// Unblock 在自己的 CPU 上解除另一个线程
func (e *Env) Unblock(t *sched.Thread) { e.m.sched.Unblock(e.CPU(), t) }

// Exit 主动退出;正体返回时蹦床也会替它退
func (e *Env) Exit() { e.m.sched.Exit(e.CPU()) }

// Spawn 从线程里再生线程,落在当前 CPU 上
func (e *Env) Spawn(name string, prio sched.Priority, fn func(*Env)) (sched.TID, error) {
	return e.m.spawn(e.CPU(), name, prio, fn)
}

// SetAffinity 改自己的亲和性
func (e *Env) SetAffinity(target int32) error {
	return e.m.sched.SetCurrentAffinity(e.CPU(), target)
}

// Affinity 读自己的亲和性
func (e *Env) Affinity() (int32, error) {
	return e.m.sched.CurrentAffinity(e.CPU())
}

// Checkpoint 安全点:响应抢占标志,并报告机器是否还在运行
// 长活线程应当在循环里定期调用;返回 false 就该收尾退出了。
func (e *Env) Checkpoint() bool {
	e.m.sched.CheckReschedule(e.CPU())
	select {
	case <-e.m.stop:
		return false
	default:
		return true
	}
}
