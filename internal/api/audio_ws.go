package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/cribwatch/cribwatch/internal/audio"
	"github.com/cribwatch/cribwatch/internal/logger"
)

// Constants for WebSocket connections
const (
	// Time allowed to write a message to the client
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client
	pongWait = 60 * time.Second

	// Send pings to client with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from client
	maxMessageSize = 512

	// Relay blocks buffered per client before new blocks are dropped
	clientQueue = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AudioFormat is the first, text message sent to every audio client.
type AudioFormat struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// AudioHub relays PCM16 blocks from the analyzer to websocket listeners.
// It implements audio.RelaySink. A slow client loses blocks instead of
// stalling the relay.
type AudioHub struct {
	format AudioFormat
	log    logger.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
	wg      sync.WaitGroup

	dropped atomic.Uint64
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

// NewAudioHub returns a hub announcing mono PCM16 at sampleRate.
func NewAudioHub(sampleRate int) *AudioHub {
	return &AudioHub{
		format: AudioFormat{
			Format:     "pcm_s16le",
			SampleRate: sampleRate,
			Channels:   1,
		},
		log:     GetLogger().Module("audio_ws"),
		clients: make(map[*wsClient]struct{}),
	}
}

// WriteAudio implements audio.RelaySink.
func (h *AudioHub) WriteAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed || len(h.clients) == 0 {
		return nil
	}
	// clients share one copy; the caller may reuse pcm
	block := append([]byte(nil), pcm...)
	for c := range h.clients {
		select {
		case c.send <- block:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Clients returns the number of connected listeners.
func (h *AudioHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of blocks not delivered to slow clients.
func (h *AudioHub) Dropped() uint64 {
	return h.dropped.Load()
}

// ServeWS upgrades the request and relays audio until the client leaves.
func (h *AudioHub) ServeWS(ctx echo.Context) error {
	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, clientQueue),
		id:   ctx.Request().RemoteAddr,
	}
	if err := conn.WriteJSON(h.format); err != nil {
		_ = conn.Close()
		return nil
	}
	if !h.register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return nil
	}

	go client.writePump(&h.wg)
	client.readPump(h.log)
	h.unregister(client)
	return nil
}

func (h *AudioHub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	h.log.Info("audio listener connected",
		logger.String("client", c.id),
		logger.Int("listeners", len(h.clients)))
	return true
}

func (h *AudioHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.log.Info("audio listener disconnected",
		logger.String("client", c.id),
		logger.Int("listeners", len(h.clients)))
}

// Close disconnects every listener and rejects new ones.
func (h *AudioHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// writePump pumps relay blocks to the connection. It owns the connection
// close so that readPump unblocks.
func (c *wsClient) writePump(wg *sync.WaitGroup) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		wg.Done()
	}()

	for {
		select {
		case block, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, block); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and tracks pongs. It returns when the
// connection fails or closes.
func (c *wsClient) readPump(log logger.Logger) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug("websocket read error", logger.String("client", c.id), logger.Error(err))
			}
			return
		}
	}
}

var _ audio.RelaySink = (*AudioHub)(nil)
