package cursor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "smokestack:export:cursors"

// advanceScript sets each field only when the new unix second is larger
// than the stored one.
var advanceScript = `
local advanced = 0
for i = 1, #ARGV, 2 do
  local current = redis.call('HGET', KEYS[1], ARGV[i])
  if (not current) or tonumber(current) < tonumber(ARGV[i + 1]) then
    redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
    advanced = advanced + 1
  end
end
return advanced
`

// RedisStore keeps cursors in one Redis hash of target -> unix seconds.
type RedisStore struct {
	client  *redis.Client
	key     string
	advance *redis.Script
}

// NewRedisStore parses redisURL and verifies the server answers.
func NewRedisStore(ctx context.Context, redisURL, key string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreWithClient(client, key), nil
}

func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, advance: redis.NewScript(advanceScript)}
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Load(ctx context.Context) (map[string]time.Time, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load cursors: %w", err)
	}
	return decodeHash(raw)
}

func (s *RedisStore) Save(ctx context.Context, cursors map[string]time.Time) error {
	if len(cursors) == 0 {
		return nil
	}
	args := encodeArgs(cursors)
	if err := s.advance.Run(ctx, s.client, []string{s.key}, args...).Err(); err != nil {
		return fmt.Errorf("save cursors: %w", err)
	}
	return nil
}

func decodeHash(raw map[string]string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(raw))
	for target, v := range raw {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cursor %q: invalid value %q", target, v)
		}
		out[target] = time.Unix(sec, 0).UTC()
	}
	return out, nil
}

func encodeArgs(cursors map[string]time.Time) []any {
	args := make([]any, 0, len(cursors)*2)
	for target, t := range cursors {
		args = append(args, target, strconv.FormatInt(t.Unix(), 10))
	}
	return args
}
