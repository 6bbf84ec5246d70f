package sched

import (
	"math"

	"github.com/sirupsen/logrus"
)

// Balance 协调者的负载均衡,一轮最多迁一个线程
// 自带周期门闩：离上次不满 BalanceInterval 个节拍就直接走人。
// 就绪数逐个 CPU 读,摘链和挂链分别在各自的锁里做,
// 任何时刻只持一把锁。返回迁移数,便于观测。
func (s *Scheduler) Balance(now uint64) int {
	if now-s.lastBalance < s.balanceInterval {
		return 0
	}
	s.lastBalance = now

	if s.ncpu < 2 {
		return 0
	}

	var (
		busiest, idlest uint32
		maxReady        = -1
		minReady        = math.MaxInt
	)
	for i := uint32(0); i < s.ncpu; i++ {
		rq := s.rq[i]
		rq.lock.Lock(0)
		n := rq.nready
		rq.lock.Unlock()
		if n > maxReady {
			maxReady = n
			busiest = i
		}
		if n < minReady {
			minReady = n
			idlest = i
		}
	}
	if busiest == idlest || maxReady-minReady < s.balanceThreshold {
		return 0
	}

	src := s.rq[busiest]
	src.lock.Lock(0)
	t := src.takeEligible(idlest)
	src.lock.Unlock()
	if t == nil {
		// 最忙的队列里没有能去 idlest 的线程
		return 0
	}

	dst := s.rq[idlest]
	dst.lock.Lock(0)
	dst.enqueue(t)
	dst.lock.Unlock()

	if s.migLog.Allow() {
		s.log.WithFields(logrus.Fields{
			"tid":  t.tid,
			"from": busiest,
			"to":   idlest,
			"gap":  maxReady - minReady,
		}).Debug("balanced thread")
	}
	return 1
}
