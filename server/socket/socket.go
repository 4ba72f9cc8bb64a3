package socket

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/pollroom/api.pollroom.dev/broadcast"

	log "github.com/sirupsen/logrus"
)

// connState tracks the session bound to one connection. The heartbeat
// goroutine reads it while the read loop writes it.
type connState struct {
	mtx       sync.Mutex
	sessionID string
}

func (s *connState) set(id string) {
	s.mtx.Lock()
	s.sessionID = id
	s.mtx.Unlock()
}

func (s *connState) get() string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.sessionID
}

// Mount registers the websocket endpoint on the app.
func Mount(app fiber.Router, h *Handler) {
	ws := app.Group("/ws")

	ws.Use(func(c *fiber.Ctx) error {
		// IsWebSocketUpgrade returns true if the client
		// requested upgrade to the WebSocket protocol.
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(426)
	})

	ws.Get("/", websocket.New(h.serve))
}

func (h *Handler) serve(c *websocket.Conn) {
	client := broadcast.NewClient(c)
	h.Hub.Register(client)
	state := &connState{}
	closeChan := make(chan struct{})

	heartbeat := h.Heartbeat
	if heartbeat == 0 {
		heartbeat = 30 * time.Second
	}

	// Presence refresh runs independently of poll and timer traffic.
	go func() {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if id := state.get(); id != "" && h.Ready() {
					if err := h.Registry.SetOnline(id, true); err != nil {
						log.Errorf("heartbeat, err=%v", err)
					}
				}
			case <-closeChan:
				return
			}
		}
	}()

	defer func() {
		close(closeChan)
		h.Hub.Unregister(client.ID)
		if id := state.get(); id != "" {
			if err := h.Registry.SetOnline(id, false); err != nil {
				log.Errorf("disconnect, err=%v", err)
			}
			h.emitParticipants()
		}
	}()

	var (
		mt  int
		msg []byte
		err error
	)
	for {
		if mt, msg, err = c.ReadMessage(); err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}

		req := &Request{}
		if err = json.Unmarshal(msg, req); err != nil {
			if err = client.WriteJSON(Ack{Ok: false, Message: "invalid request"}); err != nil {
				break
			}
			continue
		}

		ack := h.dispatch(client, state, req)
		if err = client.WriteJSON(ack); err != nil {
			break
		}
	}
}
