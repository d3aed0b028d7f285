package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel carrying an org's events.
func Channel(orgID string) string { return "medilink:org:" + orgID }

// Redis publishes events to per-org channels and subscribes to them for the realtime feed.
type Redis struct {
	client *redis.Client
}

// OpenRedis parses url (redis://host:port/db) and pings the server.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func NewRedis(c *redis.Client) *Redis {
	return &Redis{client: c}
}

// Send publishes e once per org in e.OrgIDs.
func (r *Redis) Send(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	for _, org := range e.OrgIDs {
		pipe.Publish(ctx, Channel(org), payload)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Subscribe streams raw event payloads published for orgID until stop is called or ctx ends.
func (r *Redis) Subscribe(ctx context.Context, orgID string) (<-chan []byte, func(), error) {
	ps := r.client.Subscribe(ctx, Channel(orgID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	out := make(chan []byte, 16)
	done := make(chan struct{})
	msgs := ps.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, stop, nil
}
