package sched

import (
	"errors"
	"testing"
)

// TestAffinityRoundTrip 设置后读回一致
func TestAffinityRoundTrip(t *testing.T) {
	s, _, _ := newTestScheduler(t, 2)

	tid, _ := s.Create(0, noop, nil, PriorityNormal, "w")
	got, err := s.Affinity(tid)
	if err != nil || got != AffinityAny {
		t.Fatalf("默认亲和性应为 AffinityAny, 实际 %d, err=%v", got, err)
	}

	if err := s.SetAffinity(tid, 1); err != nil {
		t.Fatalf("SetAffinity 失败: %v", err)
	}
	if got, _ := s.Affinity(tid); got != 1 {
		t.Errorf("亲和性应为 1, 实际 %d", got)
	}

	if err := s.SetAffinity(tid, AffinityAny); err != nil {
		t.Fatalf("设回 AffinityAny 失败: %v", err)
	}
	if got, _ := s.Affinity(tid); got != AffinityAny {
		t.Errorf("亲和性应回到 AffinityAny, 实际 %d", got)
	}
}

// TestAffinityValidation 各种坏参数各回各的错
func TestAffinityValidation(t *testing.T) {
	s, _, _ := newTestScheduler(t, 2)
	tid, _ := s.Create(0, noop, nil, PriorityNormal, "w")

	if err := s.SetAffinity(0, 0); !errors.Is(err, ErrBadTID) {
		t.Errorf("TID 0 应返回 ErrBadTID, 实际 %v", err)
	}
	if err := s.SetAffinity(tid, 2); !errors.Is(err, ErrBadCPU) {
		t.Errorf("CPU 2 超界应返回 ErrBadCPU, 实际 %v", err)
	}
	if err := s.SetAffinity(tid, -7); !errors.Is(err, ErrBadCPU) {
		t.Errorf("CPU -7 应返回 ErrBadCPU, 实际 %v", err)
	}
	if err := s.SetAffinity(99, 0); !errors.Is(err, ErrNoSuchThread) {
		t.Errorf("未分配的 TID 应返回 ErrNoSuchThread, 实际 %v", err)
	}
	if _, err := s.Affinity(0); !errors.Is(err, ErrBadTID) {
		t.Errorf("读 TID 0 应返回 ErrBadTID, 实际 %v", err)
	}
	if _, err := s.Affinity(99); !errors.Is(err, ErrNoSuchThread) {
		t.Errorf("读未分配 TID 应返回 ErrNoSuchThread, 实际 %v", err)
	}
}

// TestSetAffinityDoesNotMigrate 设置亲和性只改提示,不搬线程
func TestSetAffinityDoesNotMigrate(t *testing.T) {
	s, _, _ := newTestScheduler(t, 2)

	tid, _ := s.Create(0, noop, nil, PriorityNormal, "homebody")
	if err := s.SetAffinity(tid, 1); err != nil {
		t.Fatalf("SetAffinity 失败: %v", err)
	}

	snap := s.Snapshot()
	if snap[0].Ready != 1 || snap[1].Ready != 0 {
		t.Errorf("线程应还在 cpu0 的队列上, 实际 %d/%d", snap[0].Ready, snap[1].Ready)
	}
}

// TestCurrentAffinity 当前线程的亲和性便捷入口
func TestCurrentAffinity(t *testing.T) {
	s, _, _ := newTestScheduler(t, 2)

	// 空转时没有可设的当前线程
	if err := s.SetCurrentAffinity(0, 1); !errors.Is(err, ErrNoSuchThread) {
		t.Errorf("空闲线程不应可设亲和性, 实际 %v", err)
	}
	if _, err := s.CurrentAffinity(0); !errors.Is(err, ErrNoSuchThread) {
		t.Errorf("空闲线程不应可读亲和性, 实际 %v", err)
	}

	tid, _ := s.Create(0, noop, nil, PriorityNormal, "w")
	s.Schedule(0)

	if err := s.SetCurrentAffinity(0, 5); !errors.Is(err, ErrBadCPU) {
		t.Errorf("超界目标应返回 ErrBadCPU, 实际 %v", err)
	}
	if err := s.SetCurrentAffinity(0, 1); err != nil {
		t.Fatalf("SetCurrentAffinity 失败: %v", err)
	}
	if got, err := s.CurrentAffinity(0); err != nil || got != 1 {
		t.Errorf("当前线程亲和性应为 1, 实际 %d, err=%v", got, err)
	}
	if got, _ := s.Affinity(tid); got != 1 {
		t.Errorf("走 TID 读也应为 1, 实际 %d", got)
	}
}
