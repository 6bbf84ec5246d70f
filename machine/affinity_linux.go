//go:build linux

package machine

import (
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// pinLoop 把当前 goroutine 锁在 OS 线程上并钉到宿主核
// 仿真 CPU 可能比宿主核多,编号取模;失败只告警,
// 钉不钉都不影响调度语义。
func pinLoop(cpu uint32, log logrus.FieldLogger) {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(int(cpu) % runtime.NumCPU())
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		log.WithFields(logrus.Fields{
			"cpu": cpu,
			"err": err,
		}).Warn("cpu loop pin failed")
		return
	}
	log.WithField("cpu", cpu).Debug("cpu loop pinned")
}
