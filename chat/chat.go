package chat

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	"github.com/pollroom/api.pollroom.dev/domain"
	"github.com/pollroom/api.pollroom.dev/mongo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ctx = context.Background()

type Message struct {
	Sender    string    `json:"sender"`
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store holds the bounded message buffer, newest first.
type Store interface {
	Push(data []byte, max int64) error
	Recent(max int64) ([]string, error)
}

type Sessions interface {
	Get(sessionID string) (*mongo.Session, error)
}

// Service appends chat messages and keeps only the most recent N.
type Service struct {
	store    Store
	sessions Sessions
	size     int
	now      func() time.Time
}

func NewService(store Store, sessions Sessions, size int, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, sessions: sessions, size: size, now: now}
}

// Post validates the sender, appends the message and evicts the oldest
// entries beyond the retention size.
func (s *Service) Post(sessionID, text string) (*Message, error) {
	if sessionID == "" || strings.TrimSpace(text) == "" {
		return nil, domain.Reject(domain.CodeChatInvalid, "Invalid message")
	}
	sender, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sender == nil || sender.Kicked {
		return nil, domain.Reject(domain.CodeChatInvalid, "Not allowed")
	}

	msg := &Message{
		Sender:    sender.Name,
		SessionID: sessionID,
		Text:      strings.TrimSpace(text),
		CreatedAt: s.now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if err := s.store.Push(data, int64(s.size)); err != nil {
		return nil, err
	}
	return msg, nil
}

// Recent returns the retained messages, oldest first.
func (s *Service) Recent() ([]Message, error) {
	entries, err := s.store.Recent(int64(s.size))
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		var m Message
		if err := json.UnmarshalFromString(entries[i], &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

const bufferKey = "chat:messages"

// RedisStore keeps the buffer in a capped redis list.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Push(data []byte, max int64) error {
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, bufferKey, data)
	pipe.LTrim(ctx, bufferKey, 0, max-1)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Recent(max int64) ([]string, error) {
	return r.client.LRange(ctx, bufferKey, 0, max-1).Result()
}
