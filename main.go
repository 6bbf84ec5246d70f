// 多核抢占式调度器的演示入口：按配置起一台仿真机器,
// 混跑计算、睡眠、阻塞/唤醒几类线程,收工后打印调度快照
// 和锁竞争统计。配置文件缺失时用默认参数。
package main

import (
	"flag"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Whoisraeen/Scarlett-OS-sub000/machine"
	"github.com/Whoisraeen/Scarlett-OS-sub000/sched"
	"github.com/Whoisraeen/Scarlett-OS-sub000/spinlock"
)

func main() {
	configPath := flag.String("config", "machine.json", "机器配置文件(JSON)")
	flag.Parse()

	log := logrus.StandardLogger()
	cfg, err := machine.LoadConfig(*configPath, log)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	// 演示固定打开锁统计,结尾要出报表
	cfg.LockStats = true
	spinlock.EnableStats()

	m, err := machine.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("new machine")
	}
	s := m.Scheduler()
	m.Start()

	fmt.Printf("=== 多核抢占式调度演示(%d CPU) ===\n", cfg.CPUs)

	// 计算组:低优先级,够闲的 CPU 来偷
	var total atomic.Uint64
	for i := 1; i <= 4; i++ {
		name := fmt.Sprintf("worker-%d", i)
		if _, err := m.Spawn(name, sched.PriorityLow, func(env *machine.Env) {
			sum := uint64(0)
			for j := 0; j < 200000; j++ {
				sum += uint64(j)
				if j%20000 == 0 {
					env.Yield()
					if !env.Checkpoint() {
						return
					}
				}
			}
			total.Add(sum)
			fmt.Printf("%s 完工于 cpu%d\n", name, env.CPU())
		}); err != nil {
			log.WithError(err).Fatal("spawn worker")
		}
	}

	// 睡眠组:睡醒一律回到协调者 CPU
	if _, err := m.Spawn("dozer", sched.PriorityNormal, func(env *machine.Env) {
		for n := 1; n <= 5; n++ {
			env.Sleep(30)
			fmt.Printf("dozer 第 %d 次睡醒于 cpu%d\n", n, env.CPU())
		}
	}); err != nil {
		log.WithError(err).Fatal("spawn dozer")
	}

	// 阻塞/唤醒一对:waiter 挂起等信号,notifier 盯到它挂稳再发
	waiterTID, err := m.Spawn("waiter", sched.PriorityNormal, func(env *machine.Env) {
		fmt.Println("waiter 挂起等信号")
		env.Block()
		fmt.Printf("waiter 收到信号,醒在 cpu%d\n", env.CPU())
	})
	if err != nil {
		log.WithError(err).Fatal("spawn waiter")
	}
	waiter := s.Lookup(waiterTID)
	if _, err := m.Spawn("notifier", sched.PriorityNormal, func(env *machine.Env) {
		for waiter.State() != sched.StateBlocked {
			env.Yield()
		}
		env.Unblock(waiter)
		fmt.Println("notifier 信号已发")
	}); err != nil {
		log.WithError(err).Fatal("spawn notifier")
	}

	// 高优先级的插队任务
	if _, err := m.Spawn("vip", sched.PriorityHigh, func(env *machine.Env) {
		fmt.Printf("vip 插队执行于 cpu%d\n", env.CPU())
	}); err != nil {
		log.WithError(err).Fatal("spawn vip")
	}

	// 跑一小会儿,抓一张中途快照
	time.Sleep(50 * time.Millisecond)
	fmt.Println("\n=== 中途调度快照 ===")
	for _, st := range s.Snapshot() {
		fmt.Printf("cpu%-3d 就绪 %-3d 当前 %s(tid=%d) 空闲=%v\n",
			st.CPU, st.Ready, st.Name, st.Current, st.Idle)
	}
	fmt.Println()

	if err := m.WaitIdle(30 * time.Second); err != nil {
		log.WithError(err).Fatal("wait idle")
	}

	fmt.Printf("\n计算组总和 %d,共走 %d 拍\n", total.Load(), s.Now())
	fmt.Println("\n=== 锁竞争统计 ===")
	fmt.Print(spinlock.FormatStats())

	if err := m.Stop(); err != nil {
		log.WithError(err).Fatal("stop machine")
	}
}
