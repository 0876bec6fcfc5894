package ws

import (
	"encoding/json"

	"skillswap/internal/storage"
)

// Relay 把入站帧解码为带类型的事件并派发到各 handler。
// 授权一律由 handler 自己对着存储重新校验，Relay 不缓存实体状态。
type Relay struct {
	registry *Registry
	store    storage.Store
}

func NewRelay(store storage.Store, registry *Registry) *Relay {
	return &Relay{registry: registry, store: store}
}

func (r *Relay) Registry() *Registry { return r.registry }

// Dispatch 处理一帧。解析失败或未知类型只回一个 error 帧，连接保持打开。
func (r *Relay) Dispatch(c *Client, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.sendError("invalid message format")
		return
	}
	switch f.Type {
	case TypeAuth:
		r.handleAuth(c, f)
	case TypeMessage:
		r.handleChatMessage(c, f)
	case TypeMatchRequest:
		r.handleMatchRequest(c, f)
	case TypeMatchResponse:
		r.handleMatchResponse(c, f)
	case TypeTyping:
		r.handleTyping(c, f)
	case TypePing:
		c.sendFrame(OutFrame{Type: TypePong})
	default:
		c.sendError("unknown message type")
	}
}
