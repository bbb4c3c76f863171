package relay

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pyrechat/internal/chat"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 8192
	sendBuffer      = 256
	rateLimitWindow = 3 * time.Second
	rateLimitBurst  = 5
)

// wireEvent is the relay's outgoing frame.
type wireEvent struct {
	Type     chat.Kind `json:"type"`
	Username string    `json:"username"`
	Content  string    `json:"content"`
}

// encodeEvent leaves <, > and & unescaped so a relayed frame stays close to
// the size of the message that produced it.
func encodeEvent(kind chat.Kind, username, content string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(wireEvent{Type: kind, Username: username, Content: content})
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// Room is the single broadcast channel every authenticated peer joins.
type Room struct {
	peers      map[*peer]bool
	register   chan *peer
	unregister chan *peer
	broadcast  chan []byte
	direct     chan directMessage
	done       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once
}

type directMessage struct {
	to      *peer
	payload []byte
}

func newRoom() *Room {
	return &Room{
		peers:      make(map[*peer]bool),
		register:   make(chan *peer),
		unregister: make(chan *peer),
		broadcast:  make(chan []byte, sendBuffer),
		direct:     make(chan directMessage, sendBuffer),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func (room *Room) run() {
	defer close(room.stopped)
	for {
		select {
		case p := <-room.register:
			room.peers[p] = true
		case p := <-room.unregister:
			if _, ok := room.peers[p]; ok {
				delete(room.peers, p)
				close(p.send)
			}
		case payload := <-room.broadcast:
			// a peer that cannot keep up is dropped; closing send ends its writePump
			for p := range room.peers {
				select {
				case p.send <- payload:
				default:
					delete(room.peers, p)
					close(p.send)
				}
			}
		case msg := <-room.direct:
			if room.peers[msg.to] {
				select {
				case msg.to.send <- msg.payload:
				default:
				}
			}
		case <-room.done:
			for p := range room.peers {
				delete(room.peers, p)
				close(p.send)
			}
			return
		}
	}
}

func (room *Room) join(p *peer) bool {
	select {
	case room.register <- p:
		return true
	case <-room.done:
		return false
	}
}

func (room *Room) leave(p *peer) {
	select {
	case room.unregister <- p:
	case <-room.done:
	}
}

func (room *Room) publish(payload []byte) {
	select {
	case room.broadcast <- payload:
	case <-room.done:
	}
}

// sendTo delivers payload to one peer only. Sends go through the run loop,
// which is the only writer that may close a peer's send channel.
func (room *Room) sendTo(p *peer, payload []byte) {
	select {
	case room.direct <- directMessage{to: p, payload: payload}:
	case <-room.done:
	}
}

func (room *Room) stop() {
	room.stopOnce.Do(func() { close(room.done) })
	<-room.stopped
}

// peer is one websocket connection on the relay side.
type peer struct {
	room     *Room
	conn     *websocket.Conn
	send     chan []byte
	username string
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

func newPeer(room *Room, conn *websocket.Conn, username string, logger zerolog.Logger) *peer {
	return &peer{
		room:     room,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		username: username,
		limiter:  rate.NewLimiter(rate.Every(rateLimitWindow/rateLimitBurst), rateLimitBurst),
		logger:   logger,
	}
}

// readPump relays every text frame as a chat message until the connection
// ends, then runs onDisconnect.
func (p *peer) readPump(onMessage func(), onDisconnect func()) {
	defer func() {
		p.room.leave(p)
		_ = p.conn.Close()
		if onDisconnect != nil {
			onDisconnect()
		}
	}()
	p.conn.SetReadLimit(maxMsgSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		messageType, payload, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debug().Err(err).Msg("peer read ended")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !p.limiter.Allow() {
			p.notifyRateLimit()
			continue
		}
		p.room.publish(encodeEvent(chat.KindMessage, p.username, string(payload)))
		if onMessage != nil {
			onMessage()
		}
	}
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()
	for {
		select {
		case message, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *peer) notifyRateLimit() {
	p.room.sendTo(p, encodeEvent(chat.KindError, "", "You're sending messages too quickly. Please wait a moment and try again."))
}
