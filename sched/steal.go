package sched

import "github.com/sirupsen/logrus"

// steal 自己队列空了,去别的 CPU 偷一个低半区线程回来
// 受害者从本 CPU 的轮转起点开始挑,免得大家都先砸 CPU 0;
// 受害者的锁只 TryLock,拿不到就换下家,绝不等。偷到的线程
// 过一遍小偷自己的就绪队列,由 pickNext 重扫捞走。
// 两把运行队列锁从不同时持有。
func (s *Scheduler) steal(thief uint32) bool {
	if s.ncpu < 2 {
		return false
	}

	start := s.stealNext[thief]
	for i := uint32(0); i < s.ncpu; i++ {
		victim := (start + i) % s.ncpu
		if victim == thief {
			continue
		}
		vrq := s.rq[victim]
		if !vrq.lock.TryLock(thief) {
			// 受害者正忙,别耗着
			continue
		}
		t := vrq.takeEligible(thief)
		vrq.lock.Unlock()
		if t == nil {
			continue
		}

		trq := s.rq[thief]
		trq.lock.Lock(thief)
		trq.enqueue(t)
		trq.lock.Unlock()

		// 下回从受害者的下一家开始,把争用摊开
		s.stealNext[thief] = (victim + 1) % s.ncpu
		if s.migLog.Allow() {
			s.log.WithFields(logrus.Fields{
				"tid":    t.tid,
				"victim": victim,
				"thief":  thief,
				"prio":   t.priority,
			}).Debug("stole thread")
		}
		return true
	}

	s.stealNext[thief] = (start + 1) % s.ncpu
	return false
}
