package sched

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// SetAffinity 设置线程亲和性：AffinityAny 或某个具体 CPU
// 只改提示,不主动迁移;后续的均衡和窃取会尊重它。
func (s *Scheduler) SetAffinity(tid TID, cpu int32) error {
	if tid == 0 {
		return fmt.Errorf("sched: set affinity: %w", ErrBadTID)
	}
	if cpu != AffinityAny && (cpu < 0 || uint32(cpu) >= s.ncpu) {
		return fmt.Errorf("sched: set affinity tid %d: cpu %d: %w", tid, cpu, ErrBadCPU)
	}
	t := s.table.lookup(tid, 0)
	if t == nil {
		return fmt.Errorf("sched: set affinity tid %d: %w", tid, ErrNoSuchThread)
	}
	t.affinity.Store(cpu)
	s.log.WithFields(logrus.Fields{"tid": tid, "affinity": cpu}).Debug("affinity set")
	return nil
}

// Affinity 读线程亲和性
func (s *Scheduler) Affinity(tid TID) (int32, error) {
	if tid == 0 {
		return AffinityAny, fmt.Errorf("sched: get affinity: %w", ErrBadTID)
	}
	t := s.table.lookup(tid, 0)
	if t == nil {
		return AffinityAny, fmt.Errorf("sched: get affinity tid %d: %w", tid, ErrNoSuchThread)
	}
	return t.affinity.Load(), nil
}

// SetCurrentAffinity 设置 cpu 上当前线程的亲和性
// 空闲线程不在此列：它的 TID 就是 CPU 编号,走线程表会
// 撞上同号的真线程。
func (s *Scheduler) SetCurrentAffinity(cpu uint32, target int32) error {
	s.checkCPU(cpu)
	if target != AffinityAny && (target < 0 || uint32(target) >= s.ncpu) {
		return fmt.Errorf("sched: set current affinity: cpu %d: %w", target, ErrBadCPU)
	}
	rq := s.rq[cpu]
	cur := rq.current.Load()
	if cur == nil || cur == rq.idle.Load() {
		return fmt.Errorf("sched: set current affinity: no thread on cpu %d: %w", cpu, ErrNoSuchThread)
	}
	cur.affinity.Store(target)
	s.log.WithFields(logrus.Fields{"tid": cur.tid, "affinity": target}).Debug("affinity set")
	return nil
}

// CurrentAffinity 读 cpu 上当前线程的亲和性
func (s *Scheduler) CurrentAffinity(cpu uint32) (int32, error) {
	s.checkCPU(cpu)
	rq := s.rq[cpu]
	cur := rq.current.Load()
	if cur == nil || cur == rq.idle.Load() {
		return AffinityAny, fmt.Errorf("sched: current affinity: no thread on cpu %d: %w", cpu, ErrNoSuchThread)
	}
	return cur.affinity.Load(), nil
}
