package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	"github.com/jrsteele09/go-finstats-client/sessions"
	"github.com/redis/go-redis/v9"
)

var _ sessions.Repo = (*Repo)(nil)

const defaultPrefix = "finstats:"

// Config holds Redis connection configuration.
type Config struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is prepended to the storage key (default: "finstats:").
	Prefix string
}

// Repo stores the session in Redis so several processes share one login.
// Every write is announced on a pub/sub channel tagged with the writer's instance id.
type Repo struct {
	client     *redis.Client
	key        string
	channel    string
	instanceID string
	ownsClient bool
}

type envelope struct {
	Origin  string          `json:"origin"`
	Session json.RawMessage `json:"session"`
}

// New connects to Redis and returns a repo.
func New(cfg Config) (*Repo, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	r := NewFromClient(client, cfg.Prefix)
	r.ownsClient = true
	return r, nil
}

// NewFromClient wraps an existing client. The caller keeps ownership of the client.
func NewFromClient(client *redis.Client, prefix string) *Repo {
	if prefix == "" {
		prefix = defaultPrefix
	}
	key := prefix + sessions.StorageKey
	return &Repo{
		client:     client,
		key:        key,
		channel:    key + ":changes",
		instanceID: uuid.New().String(),
	}
}

// Close releases the client when the repo created it.
func (r *Repo) Close() error {
	if !r.ownsClient {
		return nil
	}
	return r.client.Close()
}

func (r *Repo) Load(ctx context.Context) (*sessions.Session, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var session sessions.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (r *Repo) Save(ctx context.Context, session *sessions.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	note, err := json.Marshal(envelope{Origin: r.instanceID, Session: data})
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key, data, 0)
		pipe.Publish(ctx, r.channel, note)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context) error {
	note, err := json.Marshal(envelope{Origin: r.instanceID, Session: json.RawMessage("null")})
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		pipe.Publish(ctx, r.channel, note)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// Watch subscribes to the change channel and reports writes made by other instances.
func (r *Repo) Watch(ctx context.Context) (<-chan sessions.Change, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription to be confirmed so no change published after Watch returns is lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	changes := make(chan sessions.Change, 1)
	go func() {
		defer close(changes)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				change, ok := r.decode(msg.Payload)
				if !ok {
					continue
				}
				select {
				case changes <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return changes, nil
}

func (r *Repo) decode(payload string) (sessions.Change, bool) {
	var note envelope
	if err := json.Unmarshal([]byte(payload), &note); err != nil {
		return sessions.Change{}, false
	}
	if note.Origin == r.instanceID {
		return sessions.Change{}, false
	}
	if len(note.Session) == 0 || string(note.Session) == "null" {
		return sessions.Change{}, true
	}

	var session sessions.Session
	if err := json.Unmarshal(note.Session, &session); err != nil {
		return sessions.Change{}, false
	}
	return sessions.Change{Session: &session}, true
}
