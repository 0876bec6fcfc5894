package ws

import (
	"encoding/json"
	"sync"

	"skillswap/internal/metrics"
)

// Registry 维护 用户 -> 活跃连接 的索引，以及全部打开的连接
// （含尚未认证的）。由组合根持有并注入，不使用包级状态。
//
// Client 上的身份字段只属于该连接的读 goroutine，注册表在 Register
// 时把 userID 存进自己的反向索引 ids，跨 goroutine 的摘除和日志
// 一律读 ids，不回头碰 Client。
type Registry struct {
	mu     sync.RWMutex
	byUser map[uint]*Client
	ids    map[*Client]uint
	all    map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[uint]*Client),
		ids:    make(map[*Client]uint),
		all:    make(map[*Client]struct{}),
	}
}

// Add 在连接建立时登记，此时还没有用户身份。
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	r.all[c] = struct{}{}
	r.mu.Unlock()
	metrics.WsConnections.Inc()
}

// Register 把已认证的连接登记到用户索引。同一用户最多一条活跃连接：
// 新登录会先用 CloseSuperseded 关闭旧连接再顶替它。
func (r *Registry) Register(c *Client) {
	// c.userID 在调用方（该连接的读 goroutine）刚写入，这里读一次
	// 落进反向索引，之后各处不再读 Client 上的字段。
	id := c.userID
	r.mu.Lock()
	old := r.byUser[id]
	r.byUser[id] = c
	r.ids[c] = id
	r.mu.Unlock()
	if old != nil && old != c {
		old.closeWith(CloseSuperseded, "superseded by new connection")
	}
}

// Release 只解除连接当前的用户索引（连接本身保持登记），
// 用于同一连接用新身份重新认证时丢弃旧身份。
func (r *Registry) Release(c *Client) {
	r.mu.Lock()
	if id, ok := r.ids[c]; ok {
		if cur := r.byUser[id]; cur == c {
			delete(r.byUser, id)
		}
		delete(r.ids, c)
	}
	r.mu.Unlock()
}

// Remove 在连接关闭时调用。用户索引按身份比对后再摘除，
// 避免迟到的关闭事件把顶替者误删。
func (r *Registry) Remove(c *Client) {
	r.mu.Lock()
	_, tracked := r.all[c]
	delete(r.all, c)
	if id, ok := r.ids[c]; ok {
		if cur := r.byUser[id]; cur == c {
			delete(r.byUser, id)
		}
		delete(r.ids, c)
	}
	r.mu.Unlock()
	if tracked {
		metrics.WsConnections.Dec()
	}
}

// userOf 返回连接注册时记录的用户 ID，未认证的连接返回 0。
func (r *Registry) userOf(c *Client) uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids[c]
}

func (r *Registry) Lookup(userID uint) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userID]
}

func (r *Registry) IsOnline(userID uint) bool {
	return r.Lookup(userID) != nil
}

func (r *Registry) ConnectedUsers() []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	return out
}

// Send 把帧投递给指定用户的活跃连接，不在线或缓冲满返回 false。
func (r *Registry) Send(userID uint, f OutFrame) bool {
	c := r.Lookup(userID)
	if c == nil {
		return false
	}
	b, err := json.Marshal(f)
	if err != nil {
		return false
	}
	return c.enqueue(b)
}

// snapshot 供心跳扫描遍历全部连接。
func (r *Registry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.all))
	for c := range r.all {
		out = append(out, c)
	}
	return out
}
