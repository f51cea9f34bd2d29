package livestatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dialer:call_status:"

// putScript applies the same never-backwards rule as accepts, atomically on the server.
// KEYS[1]=status key, ARGV[1]=json, ARGV[2]=new state, ARGV[3]=ttl ms
var putScript = redis.NewScript(`
local rank = {IDLE=0, DIALING=1, RINGING=2, CONNECTED=3, WRAP_UP=4}
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, doc = pcall(cjson.decode, cur)
  if ok and type(doc) == 'table' then
    local curState = doc['state']
    if curState == 'WRAP_UP' then
      return 0
    end
    local cr = rank[curState] or -1
    local nr = rank[ARGV[2]] or -1
    if nr < cr then
      return 0
    end
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', tonumber(ARGV[3]))
return 1
`)

// RedisStore keeps statuses in Redis with a TTL so every API instance sees them.
// Closing it does not close the shared client.
type RedisStore struct {
	rdb   redis.UniversalClient
	ttl   time.Duration
	clock func() time.Time
}

func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl, clock: time.Now}
}

func key(attemptID string) string { return keyPrefix + attemptID }

func (r *RedisStore) Put(ctx context.Context, s Status) (bool, error) {
	if s.CallAttemptID == "" {
		return false, errors.New("livestatus: call attempt id required")
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = r.clock().UTC()
	}
	b, err := json.Marshal(s)
	if err != nil {
		return false, err
	}
	n, err := putScript.Run(ctx, r.rdb, []string{key(s.CallAttemptID)}, string(b), string(s.State), r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("livestatus put: %w", err)
	}
	return n == 1, nil
}

func (r *RedisStore) Get(ctx context.Context, attemptID string) (Status, bool, error) {
	raw, err := r.rdb.Get(ctx, key(attemptID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, fmt.Errorf("livestatus get: %w", err)
	}
	var s Status
	if err := json.Unmarshal(raw, &s); err != nil {
		return Status{}, false, fmt.Errorf("livestatus decode: %w", err)
	}
	return s, true, nil
}

func (r *RedisStore) Close() error { return nil }
