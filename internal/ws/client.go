package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait     = 10 * time.Second
	maxFrameBytes = 1 << 20 // 1MB
	sendBuffer    = 256
)

// Client 代表一条服务端持有的 WebSocket 连接。
// 身份字段只在收到 auth 帧后填充，且只在该连接的读 goroutine 上读写。
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	// alive 由心跳扫描清零、pong 回调置位。
	alive atomic.Bool

	userID uint
	uname  string
	authed bool
}

func newClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// enqueue 非阻塞投递，缓冲满则丢弃该帧并返回 false。
func (c *Client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	// enqueue 会从其他连接的读 goroutine 进来（Registry.Send），
	// 不读身份字段。
	select {
	case c.send <- b:
		return true
	default:
		log.Warn().Msg("ws send buffer full, dropping frame")
		return false
	}
}

func (c *Client) sendFrame(f OutFrame) bool {
	b, err := json.Marshal(f)
	if err != nil {
		return false
	}
	return c.enqueue(b)
}

func (c *Client) sendError(msg string) {
	c.sendFrame(OutFrame{Type: TypeError, Data: ErrorPayload{Message: msg}})
}

// ping 发送控制帧探活。WriteControl 允许与写 goroutine 并发调用。
func (c *Client) ping() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// closeWith 先尽力送出关闭帧再断开传输。
func (c *Client) closeWith(code int, reason string) {
	if c.conn != nil {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}
	c.terminate()
}

// terminate 强制断开，幂等。
func (c *Client) terminate() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) writePump() {
	defer c.terminate()
	for {
		select {
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readPump(relay *Relay) {
	defer func() {
		relay.registry.Remove(c)
		c.terminate()
	}()
	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		relay.Dispatch(c, data)
	}
}
