package wsclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"skillswap/internal/models"
	"skillswap/internal/ws"

	"github.com/gorilla/websocket"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultTypingExpiry = 3 * time.Second
	DefaultBaseBackoff  = time.Second
	DefaultMaxBackoff   = 30 * time.Second
	DefaultMaxRetries   = 5
)

var errNotConnected = errors.New("not connected")

// Manager 是可复用的客户端连接管理器：负责连接生命周期（连接、认证、
// 指数退避重连、ping 保活、输入指示自动清除），并维护一份可供 UI 订阅
// 的本地状态（消息、通知、正在输入的用户）。
type Manager struct {
	url      string
	userID   uint
	username string

	pingInterval time.Duration
	typingExpiry time.Duration
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxRetries   int

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	attempts int
	closing  bool
	lastErr  error
	done     chan struct{}

	messages      []ws.MessageEvent
	seen          map[uint]struct{}
	notifications []models.Notification
	typing        map[string]ws.TypingEvent
	typingTimers  map[uint]*time.Timer

	// OnState/OnFrame 由 UI 层挂接，回调在独立 goroutine 上执行。
	OnState func(State)
	OnFrame func(ws.Frame)
}

func New(url string, userID uint, username string) *Manager {
	return &Manager{
		url:          url,
		userID:       userID,
		username:     username,
		pingInterval: DefaultPingInterval,
		typingExpiry: DefaultTypingExpiry,
		baseBackoff:  DefaultBaseBackoff,
		maxBackoff:   DefaultMaxBackoff,
		maxRetries:   DefaultMaxRetries,
		state:        StateDisconnected,
		seen:         make(map[uint]struct{}),
		typing:       make(map[string]ws.TypingEvent),
		typingTimers: make(map[uint]*time.Timer),
	}
}

// Connect 建立连接。已在连接中或已连接时是 no-op。
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.closing = false
	m.attempts = 0
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	return m.dial()
}

// Disconnect 主动断开（正常关闭码），不触发重连。
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	for id, t := range m.typingTimers {
		t.Stop()
		delete(m.typingTimers, id)
	}
	if m.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = m.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = m.conn.Close()
		m.conn = nil
	}
	m.stopLoopsLocked()
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Attempts 返回当前累计的重连次数，供诊断使用。
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(m.url, nil)
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		m.lastErr = err
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return err
	}
	m.conn = conn
	m.attempts = 0
	done := make(chan struct{})
	m.done = done
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	authData, _ := json.Marshal(ws.AuthPayload{UserID: m.userID, Username: m.username})
	_ = m.writeFrame(ws.Frame{Type: ws.TypeAuth, Data: authData})

	go m.readLoop(conn)
	go m.pingLoop(done)
	return err
}

// scheduleReconnectLocked 以 min(base·2^n, max) 的退避安排下一次重连，
// 超过最大次数后停在 disconnected 不再自动重试。
func (m *Manager) scheduleReconnectLocked() {
	if m.closing || m.attempts >= m.maxRetries {
		m.setStateLocked(StateDisconnected)
		return
	}
	delay := m.backoff(m.attempts)
	m.attempts++
	m.setStateLocked(StateConnecting)
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		skip := m.closing || m.state != StateConnecting
		m.mu.Unlock()
		if !skip {
			_ = m.dial()
		}
	})
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := m.baseBackoff << uint(attempt)
	if d <= 0 || d > m.maxBackoff {
		return m.maxBackoff
	}
	return d
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn, err)
			return
		}
		m.handleFrame(data)
	}
}

func (m *Manager) handleClose(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		// 已被新连接顶替或主动断开，忽略旧连接的收尾。
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.stopLoopsLocked()
	if m.closing || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return
	}
	m.lastErr = err
	m.scheduleReconnectLocked()
	m.mu.Unlock()
}

func (m *Manager) stopLoopsLocked() {
	if m.done != nil {
		select {
		case <-m.done:
		default:
			close(m.done)
		}
	}
}

// pingLoop 周期性发送应用层 ping 保活。超时判定在服务端，
// 客户端收到 pong 只用于诊断。
func (m *Manager) pingLoop(done chan struct{}) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if m.writeFrame(ws.Frame{Type: ws.TypePing}) != nil {
				return
			}
		}
	}
}

func (m *Manager) writeFrame(f ws.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil || m.state != StateConnected {
		return errNotConnected
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return m.conn.WriteJSON(f)
}

func (m *Manager) handleFrame(data []byte) {
	var f ws.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	switch f.Type {
	case ws.TypeMessage:
		var ev ws.MessageEvent
		if err := json.Unmarshal(f.Data, &ev); err == nil && ev.ID != 0 {
			m.mu.Lock()
			m.addMessageLocked(ev)
			m.mu.Unlock()
		}
	case ws.TypeNotification:
		m.handleNotification(f.Data)
	case ws.TypeTyping:
		var ev ws.TypingEvent
		if err := json.Unmarshal(f.Data, &ev); err == nil {
			m.mu.Lock()
			key := typingKey(ev.UserID, ev.MatchID)
			if ev.IsTyping {
				m.typing[key] = ev
			} else {
				delete(m.typing, key)
			}
			m.mu.Unlock()
		}
	case ws.TypePong:
		// 保活回应，无状态更新。
	}
	if cb := m.OnFrame; cb != nil {
		go cb(f)
	}
}

func (m *Manager) handleNotification(data json.RawMessage) {
	var batch struct {
		Type          string                `json:"type"`
		Notifications []models.Notification `json:"notifications"`
	}
	if err := json.Unmarshal(data, &batch); err == nil && batch.Type == "pending_notifications" {
		m.mu.Lock()
		m.notifications = append(batch.Notifications, m.notifications...)
		m.mu.Unlock()
		return
	}
	var n models.Notification
	if err := json.Unmarshal(data, &n); err == nil && n.ID != 0 {
		m.mu.Lock()
		m.notifications = append([]models.Notification{n}, m.notifications...)
		m.mu.Unlock()
	}
}

// addMessageLocked 按 id 去重后插入，并保持按 createdAt 排序。
// 同一条消息可能从 REST 拉取和实时帧两条路径到达。
func (m *Manager) addMessageLocked(ev ws.MessageEvent) {
	if _, ok := m.seen[ev.ID]; ok {
		return
	}
	m.seen[ev.ID] = struct{}{}
	m.messages = append(m.messages, ev)
	sort.SliceStable(m.messages, func(i, j int) bool {
		return m.messages[i].CreatedAt.Before(m.messages[j].CreatedAt)
	})
}

// AddMessages 合并一批 REST 拉取到的历史消息。
func (m *Manager) AddMessages(msgs []ws.MessageEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range msgs {
		m.addMessageLocked(ev)
	}
}

func (m *Manager) Messages() []ws.MessageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ws.MessageEvent, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *Manager) Notifications() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Notification, len(m.notifications))
	copy(out, m.notifications)
	return out
}

func (m *Manager) TypingUsers() []ws.TypingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ws.TypingEvent, 0, len(m.typing))
	for _, ev := range m.typing {
		out = append(out, ev)
	}
	return out
}

// SendMessage 通过实时连接发送聊天消息。未连接时返回 false，
// 调用方应回退到 REST POST。
func (m *Manager) SendMessage(matchID uint, text string) bool {
	b, _ := json.Marshal(ws.MessagePayload{Message: text})
	return m.writeFrame(ws.Frame{Type: ws.TypeMessage, MatchID: matchID, Data: b}) == nil
}

func (m *Manager) SendMatchRequest(targetUserID uint) bool {
	return m.writeFrame(ws.Frame{Type: ws.TypeMatchRequest, TargetUserID: targetUserID}) == nil
}

func (m *Manager) RespondToMatch(matchID uint, response string) bool {
	b, _ := json.Marshal(ws.ResponsePayload{Response: response})
	return m.writeFrame(ws.Frame{Type: ws.TypeMatchResponse, MatchID: matchID, Data: b}) == nil
}

// SendTypingIndicator 发送输入指示。发送 true 会启动一个定时器，
// 到期自动补发 false，避免对端的指示悬挂。
func (m *Manager) SendTypingIndicator(matchID uint, isTyping bool) {
	b, _ := json.Marshal(ws.TypingPayload{IsTyping: isTyping})
	_ = m.writeFrame(ws.Frame{Type: ws.TypeTyping, MatchID: matchID, Data: b})
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.typingTimers[matchID]; t != nil {
		t.Stop()
		delete(m.typingTimers, matchID)
	}
	if isTyping {
		m.typingTimers[matchID] = time.AfterFunc(m.typingExpiry, func() {
			m.SendTypingIndicator(matchID, false)
		})
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if cb := m.OnState; cb != nil {
		go cb(s)
	}
}

func typingKey(userID, matchID uint) string {
	return fmt.Sprintf("%d|%d", userID, matchID)
}
