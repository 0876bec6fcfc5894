package ws

import (
	"time"

	"github.com/rs/zerolog/log"
)

// HeartbeatInterval 是生产环境的扫描周期。
const HeartbeatInterval = 30 * time.Second

// Monitor 周期性探测所有打开的连接：每轮先把仍标记为死亡的连接强制
// 断开并从注册表摘除，然后把其余连接清零并发送 ping，等对端的 pong
// 把 alive 置回。close 事件对拔网线、进程崩溃这类消失不会触发，
// 心跳把注册表的陈旧程度限制在一个周期内。
type Monitor struct {
	registry *Registry
	interval time.Duration
	stop     chan struct{}
}

func NewMonitor(registry *Registry, interval time.Duration) *Monitor {
	return &Monitor{registry: registry, interval: interval, stop: make(chan struct{})}
}

// Run 阻塞运行扫描循环，调用方负责放入 goroutine。
func (m *Monitor) Run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

func (m *Monitor) sweep() {
	for _, c := range m.registry.snapshot() {
		if c.closed() {
			m.registry.Remove(c)
			continue
		}
		if !c.alive.Load() {
			log.Info().Uint("user_id", m.registry.userOf(c)).Msg("ws heartbeat timeout, terminating")
			c.terminate()
			m.registry.Remove(c)
			continue
		}
		c.alive.Store(false)
		if err := c.ping(); err != nil {
			c.terminate()
			m.registry.Remove(c)
		}
	}
}
