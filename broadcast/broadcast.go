package broadcast

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pollroom/api.pollroom.dev/utils"

	log "github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ctx = context.Background()

// Channel carries every server-push event. Each process subscribes and fans
// incoming messages out to its local connections.
const Channel = "events:classroom"

const (
	EventPollState   = "poll:state"
	EventPollCreated = "poll:created"
	EventPollUpdate  = "poll:update"
	EventPollTimer   = "poll:timer"
	EventPollEnded   = "poll:ended"
	EventSessions    = "sessions:update"
	EventKicked      = "session:kicked"
	EventChatMessage = "chat:message"
	EventChatHistory = "chat:history"
)

type Envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
}

// Client is one connected session. All writes to the underlying connection go
// through the mutex, acks and pushed events share it.
type Client struct {
	ID   string
	conn wsConn
	mtx  sync.Mutex
}

func NewClient(conn wsConn) *Client {
	return &Client{ID: uuid.NewString(), conn: conn}
}

func (c *Client) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(data)
}

// Send pushes one event to this connection only.
func (c *Client) Send(event string, payload interface{}) error {
	return c.WriteJSON(Envelope{Event: event, Payload: payload})
}

func (c *Client) write(data []byte) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub relays state transitions to every connected session. Delivery is
// fire-and-forget, a slow or dead connection never stalls the publisher or
// its peers.
type Hub struct {
	mtx     sync.Mutex
	clients map[string]*Client
	redis   *redis.Client
	pubsub  *redis.PubSub
}

// NewHub starts the fanout relay. With a nil redis client events are
// dispatched to local connections directly.
func NewHub(rc *redis.Client) *Hub {
	h := &Hub{
		clients: map[string]*Client{},
		redis:   rc,
	}
	if rc != nil {
		h.pubsub = rc.Subscribe(ctx, Channel)
		go h.listen()
	}
	return h
}

func (h *Hub) Register(c *Client) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.clients[c.ID] = c
}

func (h *Hub) Unregister(id string) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	delete(h.clients, id)
}

// Emit publishes one event to every connected session, routed through redis
// so all processes sharing the channel deliver it.
func (h *Hub) Emit(event string, payload interface{}) {
	data, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		log.Errorf("json, err=%v", err)
		return
	}
	if h.redis != nil {
		err := h.redis.Publish(ctx, Channel, data).Err()
		if err == nil {
			return
		}
		log.Errorf("redis, err=%v", err)
	}
	h.dispatch(data)
}

func (h *Hub) listen() {
	ch := h.pubsub.Channel()
	for msg := range ch {
		h.dispatch(utils.S2B(msg.Payload))
	}
}

func (h *Hub) dispatch(data []byte) {
	h.mtx.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mtx.Unlock()

	for _, c := range clients {
		go func(c *Client) {
			defer func() { recover() }()
			if err := c.write(data); err != nil {
				log.Debugf("fanout, id=%s err=%v", c.ID, err)
			}
		}(c)
	}
}
