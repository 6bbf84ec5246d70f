package spinlock

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// 锁竞争统计：挂名登记的锁记录获取次数、竞争次数与自旋开销，
// 集中汇报，便于找出调度热路径上的热点锁。
// 统计开关关闭时记录路径只剩一次原子读。

// LockStat 单把锁的竞争计数
type LockStat struct {
	name        string
	acquires    atomic.Uint64
	contentions atomic.Uint64
	totalSpins  atomic.Uint64
	maxSpins    atomic.Uint64
}

// record 由持锁方在拿到锁之后调用，spins 是本次等待的让出次数
func (s *LockStat) record(spins uint64) {
	if !statsEnabled.Load() {
		return
	}
	s.acquires.Add(1)
	if spins > 0 {
		s.contentions.Add(1)
		s.totalSpins.Add(spins)
		if spins > s.maxSpins.Load() {
			s.maxSpins.Store(spins)
		}
	}
}

// StatRow 一把锁的统计快照
type StatRow struct {
	Name        string
	Acquires    uint64
	Contentions uint64
	TotalSpins  uint64
	MaxSpins    uint64
}

func (s *LockStat) snapshot() StatRow {
	return StatRow{
		Name:        s.name,
		Acquires:    s.acquires.Load(),
		Contentions: s.contentions.Load(),
		TotalSpins:  s.totalSpins.Load(),
		MaxSpins:    s.maxSpins.Load(),
	}
}

var (
	statsEnabled atomic.Bool
	statsLock    RWLock
	statsTable   []*LockStat
)

// EnableStats 打开全局锁统计
func EnableStats() { statsEnabled.Store(true) }

// DisableStats 关闭全局锁统计，已累计的数字保留
func DisableStats() { statsEnabled.Store(false) }

// ResetStats 清空登记表，只给测试用
func ResetStats() {
	statsLock.WLock()
	statsTable = nil
	statsLock.WUnlock()
}

func registerStat(name string) *LockStat {
	s := &LockStat{name: name}
	statsLock.WLock()
	statsTable = append(statsTable, s)
	statsLock.WUnlock()
	return s
}

// StatsSnapshot 返回所有已登记锁的统计，按竞争次数降序
func StatsSnapshot() []StatRow {
	statsLock.RLock()
	rows := make([]StatRow, 0, len(statsTable))
	for _, s := range statsTable {
		rows = append(rows, s.snapshot())
	}
	statsLock.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Contentions != rows[j].Contentions {
			return rows[i].Contentions > rows[j].Contentions
		}
		return rows[i].Name < rows[j].Name
	})
	return rows
}

// FormatStats 把统计表渲染成给人看的多行文本
func FormatStats() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %10s %10s %12s %8s\n", "lock", "acquires", "contended", "spins", "max")
	for _, r := range StatsSnapshot() {
		fmt.Fprintf(&b, "%-24s %10d %10d %12d %8d\n", r.Name, r.Acquires, r.Contentions, r.TotalSpins, r.MaxSpins)
	}
	return b.String()
}
