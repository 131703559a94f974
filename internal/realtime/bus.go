package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Change is one row-level change pushed to subscribers. It carries ids
// only; subscribers hydrate the row themselves.
type Change struct {
	Table string    `json:"table"`
	Op    string    `json:"op"`
	RowID string    `json:"row_id"`
	Scope string    `json:"scope,omitempty"`
	At    time.Time `json:"at"`
}

// Topic names a channel: every change of a table, or only those in one scope.
type Topic struct {
	Table string
	Scope string
}

// Bus publishes and subscribes to changes over redis pub/sub. Each change
// goes to the table channel and, when it has a scope, to the scoped one.
type Bus struct {
	rdb    *redis.Client
	prefix string
	log    *zap.Logger
}

func NewBus(rdb *redis.Client, prefix string, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{rdb: rdb, prefix: prefix, log: log}
}

func (b *Bus) channel(t Topic) string {
	if t.Scope == "" {
		return fmt.Sprintf("%s:%s", b.prefix, t.Table)
	}
	return fmt.Sprintf("%s:%s:%s", b.prefix, t.Table, t.Scope)
}

func (b *Bus) Publish(ctx context.Context, c Change) error {
	if c.At.IsZero() {
		c.At = time.Now()
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	pipe := b.rdb.Pipeline()
	pipe.Publish(ctx, b.channel(Topic{Table: c.Table}), payload)
	if c.Scope != "" {
		pipe.Publish(ctx, b.channel(Topic{Table: c.Table, Scope: c.Scope}), payload)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Subscription delivers changes to a handler on its own goroutine until
// closed. Close is safe to call more than once and waits for the
// delivery goroutine to exit.
type Subscription struct {
	ps     *redis.PubSub
	done   chan struct{}
	once   sync.Once
	log    *zap.Logger
	topics []string
}

// Subscribe opens one subscription covering topics. It returns after the
// server confirmed the subscription, so changes published afterwards are
// delivered.
func (b *Bus) Subscribe(ctx context.Context, handler func(Change), topics ...Topic) (*Subscription, error) {
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = b.channel(t)
	}
	ps := b.rdb.Subscribe(ctx, names...)
	for range names {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("subscribe %v: %w", names, err)
		}
	}
	s := &Subscription{ps: ps, done: make(chan struct{}), log: b.log, topics: names}
	ch := ps.Channel()
	go func() {
		defer close(s.done)
		for msg := range ch {
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				s.log.Warn("drop malformed change", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			handler(c)
		}
	}()
	b.log.Debug("subscription opened", zap.Strings("channels", names))
	return s, nil
}

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
		s.log.Debug("subscription closed", zap.Strings("channels", s.topics))
	})
	return err
}
