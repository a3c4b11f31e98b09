package bridge

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the companion
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the companion
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the companion
	maxMessageSize = 4096
)

// peer is one connected companion app
type peer struct {
	id     string
	conn   *websocket.Conn
	bridge *Bridge
	send   chan []byte
	done   chan struct{}
}

func newPeer(id string, conn *websocket.Conn, b *Bridge) *peer {
	return &peer{
		id:     id,
		conn:   conn,
		bridge: b,
		send:   make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

// enqueue hands a message to the write pump. It reports false when the
// companion is gone or too far behind.
func (p *peer) enqueue(m message) bool {
	data, err := json.Marshal(m)
	if err != nil {
		log.Printf("❌ Failed to marshal bridge message: %v", err)
		return false
	}
	select {
	case <-p.done:
		return false
	case p.send <- data:
		return true
	default:
		log.WithField("peer", p.id).Warn("⚠️  companion send buffer full, dropping message")
		return false
	}
}

// readPump dispatches companion messages until the connection fails
func (p *peer) readPump() {
	defer func() {
		p.bridge.detach(p)
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Bridge websocket error: %v", err)
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Invalid bridge message format: %v", err)
			continue
		}

		if msg.Type == typePing {
			p.enqueue(message{Type: typePong})
			continue
		}
		p.bridge.dispatch(p, msg)
	}
}

// writePump writes queued messages and keeps the connection alive
func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case <-p.done:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			p.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
