package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Impulse-Zero/python.github.io/internal/logger"
)

// publisher is the subset of the redis client used by the relay
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Close() error
}

// RelayMessage is what the relay writes to the redis channel
type RelayMessage struct {
	Session string `json:"session,omitempty"`
	Envelope
}

// RedisRelay forwards events to a redis pub/sub channel for telemetry sinks.
// Publishing happens on a background goroutine; when the queue is full new
// messages are dropped so page handlers never block on redis.
type RedisRelay struct {
	rdb     publisher
	channel string
	log     *logger.Logger

	queue   chan []byte
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

const relayQueueSize = 256

// NewRedisRelay connects to redis at addr and starts the relay
func NewRedisRelay(ctx context.Context, addr, channel string, log *logger.Logger) (*RedisRelay, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if strings.TrimSpace(channel) == "" {
		channel = "coursetrack.events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRelay(rdb, channel, log), nil
}

func newRelay(rdb publisher, channel string, log *logger.Logger) *RedisRelay {
	if log == nil {
		log = logger.Get()
	}
	r := &RedisRelay{
		rdb:     rdb,
		channel: channel,
		log:     log.Component("redis_relay"),
		queue:   make(chan []byte, relayQueueSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *RedisRelay) run() {
	defer close(r.done)
	for raw := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
			r.log.Warn("Failed to relay event", map[string]interface{}{
				"channel": r.channel,
				"error":   err.Error(),
			})
		}
		cancel()
	}
}

// Forward queues e for publishing, tagged with the session id
func (r *RedisRelay) Forward(session string, e Event) error {
	env, err := Wrap(e)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(RelayMessage{Session: session, Envelope: env})
	if err != nil {
		return fmt.Errorf("failed to encode relay message: %w", err)
	}

	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return fmt.Errorf("redis relay closed")
	}

	select {
	case r.queue <- raw:
		return nil
	default:
		r.log.Warn("Relay queue full, dropping event", map[string]interface{}{
			"event": string(e.Kind()),
		})
		return fmt.Errorf("redis relay queue full")
	}
}

// Attach forwards every event of the given kinds published on b. The
// returned function detaches the relay from the bus.
func (r *RedisRelay) Attach(b *Bus, session string, kinds ...Kind) func() {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	return b.SubscribeAll(func(e Event) {
		if len(want) > 0 && !want[e.Kind()] {
			return
		}
		_ = r.Forward(session, e)
	})
}

// Close drains the queue and closes the redis client
func (r *RedisRelay) Close() error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.closeMu.Unlock()

	<-r.done
	return r.rdb.Close()
}
