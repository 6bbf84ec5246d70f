package machine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/Whoisraeen/Scarlett-OS-sub000/sched"
)

// Config 机器参数,JSON 可覆盖
type Config struct {
	// CPUs 仿真的 CPU 数
	CPUs int `json:"cpus"`
	// Quantum 时间片(tick)
	Quantum uint32 `json:"quantum"`
	// TickMs 一拍多少毫秒
	TickMs int `json:"tick_ms"`
	// BalanceInterval 负载均衡周期(tick)
	BalanceInterval uint64 `json:"balance_interval"`
	// BalanceThreshold 迁移阈值
	BalanceThreshold int `json:"balance_threshold"`
	// PinLoops 把 CPU 循环钉到宿主核上(仅 Linux,尽力而为)
	PinLoops bool `json:"pin_loops"`
	// LockStats 开锁争用统计
	LockStats bool `json:"lock_stats"`
	// LogLevel logrus 日志级别
	LogLevel string `json:"log_level"`
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	cpus := runtime.NumCPU()
	if cpus > sched.MaxCPUs {
		cpus = sched.MaxCPUs
	}
	return Config{
		CPUs:             cpus,
		Quantum:          sched.DefaultQuantum,
		TickMs:           10,
		BalanceInterval:  sched.DefaultBalanceInterval,
		BalanceThreshold: sched.DefaultBalanceThreshold,
		LogLevel:         "info",
	}
}

// LoadConfig 读 JSON 配置
// 文件缺失不算错,用默认;parse 失败报错;字段非法逐个打回
// 默认并告警,配置坏一半机器照样能起。
func LoadConfig(path string, log logrus.FieldLogger) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.WithField("path", path).Warn("config file missing, using defaults")
			return cfg, nil
		}
		return cfg, fmt.Errorf("machine: load config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("machine: parse config %s: %w", path, err)
	}
	return cfg.sanitize(log), nil
}

// sanitize 逐字段验证,非法值回落默认
func (c Config) sanitize(log logrus.FieldLogger) Config {
	def := DefaultConfig()
	if c.CPUs < 1 || c.CPUs > sched.MaxCPUs {
		log.WithField("cpus", c.CPUs).Warn("invalid cpu count, using default")
		c.CPUs = def.CPUs
	}
	if c.Quantum < 1 {
		log.WithField("quantum", c.Quantum).Warn("invalid quantum, using default")
		c.Quantum = def.Quantum
	}
	if c.TickMs < 1 || c.TickMs > 1000 {
		log.WithField("tick_ms", c.TickMs).Warn("invalid tick period, using default")
		c.TickMs = def.TickMs
	}
	if c.BalanceInterval < 1 {
		log.WithField("balance_interval", c.BalanceInterval).Warn("invalid balance interval, using default")
		c.BalanceInterval = def.BalanceInterval
	}
	if c.BalanceThreshold < 1 {
		log.WithField("balance_threshold", c.BalanceThreshold).Warn("invalid balance threshold, using default")
		c.BalanceThreshold = def.BalanceThreshold
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		log.WithField("log_level", c.LogLevel).Warn("invalid log level, using default")
		c.LogLevel = def.LogLevel
	}
	return c
}
