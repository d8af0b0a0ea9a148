package api

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"planning-poker-server/internal/protocol"
)

var (
	errClientClosed = errors.New("client closed")
	errSendBuffer   = errors.New("send buffer full")
)

const msgRateLimited = "Rate limit exceeded. Please slow down."

// MessageHandler consumes inbound frames for a connection.
type MessageHandler interface {
	Handle(connID string, data []byte)
}

type ClientOptions struct {
	WriteTimeout         time.Duration
	PongTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageSize       int64
	SendBuffer           int
	MaxMessagesPerSecond int
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongTimeout {
		o.PingInterval = (o.PongTimeout * 9) / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// Client is one websocket connection. Inbound frames are handled one at a
// time on the read goroutine; outbound frames are queued and written by
// the write goroutine in queue order.
type Client struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	opts    ClientOptions
	handler MessageHandler
	onClose func()

	closeOnce sync.Once

	rateMu    sync.Mutex
	rateCount int
	rateReset time.Time
}

func NewClient(id string, ws *websocket.Conn, handler MessageHandler, opts ClientOptions, onClose func()) *Client {
	opts = opts.withDefaults()
	return &Client{
		id:        id,
		ws:        ws,
		send:      make(chan []byte, opts.SendBuffer),
		done:      make(chan struct{}),
		opts:      opts,
		handler:   handler,
		onClose:   onClose,
		rateReset: time.Now(),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues data without blocking. A full queue means the peer is not
// reading; the caller is expected to close the client.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return errSendBuffer
	}
}

// Close stops the client. The write goroutine sends a close frame and
// then closes the socket, which also ends the read loop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		if c.onClose != nil {
			c.onClose()
		}
		_ = c.Close()
	}()

	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Str("conn", c.id).Msg("read error")
			}
			return
		}

		if !c.allow() {
			log.Warn().Str("conn", c.id).Msg("rate limit exceeded")
			if msg, err := protocol.Encode(protocol.EventError, protocol.ErrorPayload{Message: msgRateLimited}); err == nil {
				_ = c.Send(msg)
			}
			continue
		}

		c.handler.Handle(c.id, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteTimeout))
			return
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().Err(err).Str("conn", c.id).Msg("write error")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes whatever is still queued, without waiting for more.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// allow applies a fixed one second window message budget. A zero budget
// disables limiting.
func (c *Client) allow() bool {
	if c.opts.MaxMessagesPerSecond <= 0 {
		return true
	}
	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	now := time.Now()
	if now.Sub(c.rateReset) > time.Second {
		c.rateCount = 0
		c.rateReset = now
	}
	c.rateCount++
	return c.rateCount <= c.opts.MaxMessagesPerSecond
}
