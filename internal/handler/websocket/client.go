package websocket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/domain"
)

const (
	// 单次写入的超时
	writeWait = 10 * time.Second
	// 服务端只推送，客户端发来的消息只用于保活
	maxMessageSize = 512
)

// Client 代表一个 WebSocket 连接，同时是 stream.Sink 的实现。
// 写入只发生在 Stream.Serve 所在的 goroutine，读取只发生在 readPump。
type Client struct {
	conn     *websocket.Conn
	roomID   uint
	userID   uint
	pongWait time.Duration
	log      *logrus.Entry
}

// NewClient 创建 Client，pongWait 应大于心跳间隔
func NewClient(conn *websocket.Conn, roomID, userID uint, pongWait time.Duration) *Client {
	return &Client{
		conn:     conn,
		roomID:   roomID,
		userID:   userID,
		pongWait: pongWait,
		log:      logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID}),
	}
}

func (c *Client) RoomID() uint { return c.roomID }
func (c *Client) UserID() uint { return c.userID }

// WriteEvent 把事件写成一个 JSON 文本帧
func (c *Client) WriteEvent(event domain.Event) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(event); err != nil {
		c.log.WithError(err).Debug("Failed to write event to websocket")
		return err
	}
	return nil
}

// WriteHeartbeat 发送 Ping，客户端的 Pong 会延长读超时
func (c *Client) WriteHeartbeat() error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.WithError(err).Debug("Failed to send ping message")
		return err
	}
	return nil
}

// ReadPump 读取并丢弃客户端消息，连接断开或读超时后调用 cancel。
// 它在自己的 goroutine 中运行。
func (c *Client) ReadPump(cancel context.CancelFunc) {
	defer cancel()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.log.Debug("WebSocket connection closed normally or read error")
			}
			return
		}
		c.log.Debugf("Ignoring inbound message (type: %d, size: %d)", messageType, len(message))
	}
}

// Close 尝试发送关闭帧后关闭底层连接
func (c *Client) Close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}
