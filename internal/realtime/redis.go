package realtime

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"evalcollab/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// DefaultPresenceTTL bounds how long a tracked member survives without being
// tracked again, so a crashed process does not leave ghosts behind.
const DefaultPresenceTTL = 2 * time.Minute

// Redis fans out over redis pub/sub and keeps presence sets as sorted sets
// scored by the last track time, with display names in a side hash.
type Redis struct {
	Client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// ConnectRedis parses a redis:// URL and pings the server.
func ConnectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Sugar.Infof("Connected to redis at %s", opts.Addr)
	return client, nil
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &Redis{Client: client, ttl: ttl, now: time.Now}
}

func presenceKey(channel string) string { return "presence:" + channel }
func namesKey(channel string) string    { return "presence:" + channel + ":names" }

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.Client.Publish(ctx, channel, payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, channel string, fn Handler) (func(), error) {
	ps := r.Client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed before returning.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			fn([]byte(msg.Payload))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				logger.Sugar.Warnf("Failed to close redis subscription on %s: %v", channel, err)
			}
			<-done
		})
	}, nil
}

func (r *Redis) Track(ctx context.Context, channel string, m Member) error {
	at := m.OnlineAt
	if at.IsZero() {
		at = r.now()
	}
	_, err := r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, presenceKey(channel), redis.Z{Score: float64(at.UnixMilli()), Member: m.UserID})
		pipe.HSet(ctx, namesKey(channel), m.UserID, m.DisplayName)
		pipe.Expire(ctx, presenceKey(channel), r.ttl)
		pipe.Expire(ctx, namesKey(channel), r.ttl)
		return nil
	})
	return err
}

func (r *Redis) Untrack(ctx context.Context, channel, userID string) error {
	_, err := r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, presenceKey(channel), userID)
		pipe.HDel(ctx, namesKey(channel), userID)
		return nil
	})
	return err
}

func (r *Redis) Members(ctx context.Context, channel string) ([]Member, error) {
	cutoff := r.now().Add(-r.ttl).UnixMilli()
	if err := r.Client.ZRemRangeByScore(ctx, presenceKey(channel), "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, err
	}

	entries, err := r.Client.ZRangeWithScores(ctx, presenceKey(channel), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []Member{}, nil
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, fmt.Sprint(e.Member))
	}
	names, err := r.Client.HMGet(ctx, namesKey(channel), ids...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Member, 0, len(entries))
	for i, e := range entries {
		m := Member{UserID: ids[i], OnlineAt: time.UnixMilli(int64(e.Score)).UTC()}
		if name, ok := names[i].(string); ok {
			m.DisplayName = name
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
