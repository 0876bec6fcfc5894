package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 升级 /ws 连接。连接在收到 auth 帧之前没有用户身份，
// 聊天类事件会被 handler 以未认证拒绝。
func Serve(relay *Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newClient(conn)
		relay.Registry().Add(client)
		go client.writePump()
		client.readPump(relay)
	}
}
