package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares bindings between server processes.
//
// Layout, under a configurable prefix:
//
//	<prefix>user:<userID>  -> connID
//	<prefix>conn:<connID>  -> userID
//	<prefix>online         -> set of userIDs
//
// The conn key is the reverse index that lets Unbind find its user
// without scanning.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "presence:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) userKey(userID uuid.UUID) string { return s.prefix + "user:" + userID.String() }
func (s *RedisStore) connKey(connID string) string    { return s.prefix + "conn:" + connID }
func (s *RedisStore) onlineKey() string               { return s.prefix + "online" }

func (s *RedisStore) Bind(ctx context.Context, userID uuid.UUID, connID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.userKey(userID), connID, 0)
		pipe.Set(ctx, s.connKey(connID), userID.String(), 0)
		pipe.SAdd(ctx, s.onlineKey(), userID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("bind presence: %w", err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, userID uuid.UUID) (string, bool, error) {
	connID, err := s.client.Get(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup presence: %w", err)
	}
	return connID, true, nil
}

// unbindScript drops the reverse index for the connection, then deletes
// the user's binding only if it still points at this connection.
//
// Why a script and not GET then DEL from Go?
//   - A user who reconnects binds the new socket before the old one's
//     read loop notices it is dead. A separate GET and DEL would let the
//     old socket's Unbind delete the fresh binding in between, taking the
//     user offline while they are connected.
//   - Redis runs the script atomically, so the compare and the delete see
//     the same value.
//
// The user key is built inside the script from ARGV[2], so not every key
// the script touches is declared in KEYS. That is fine on a single Redis
// but not on Redis Cluster.
//
// KEYS[1] conn key, KEYS[2] online set. ARGV[1] connID, ARGV[2] user key prefix.
var unbindScript = redis.NewScript(`
local uid = redis.call('GET', KEYS[1])
if not uid then
  return false
end
redis.call('DEL', KEYS[1])
local userKey = ARGV[2] .. uid
if redis.call('GET', userKey) == ARGV[1] then
  redis.call('DEL', userKey)
  redis.call('SREM', KEYS[2], uid)
  return uid
end
return false
`)

func (s *RedisStore) Unbind(ctx context.Context, connID string) (uuid.UUID, bool, error) {
	res, err := unbindScript.Run(ctx, s.client,
		[]string{s.connKey(connID), s.onlineKey()},
		connID, s.prefix+"user:",
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("unbind presence: %w", err)
	}
	userID, err := uuid.Parse(res)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("unbind presence: bad user id %q: %w", res, err)
	}
	return userID, true, nil
}

func (s *RedisStore) Online(ctx context.Context) ([]uuid.UUID, error) {
	members, err := s.client.SMembers(ctx, s.onlineKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}
	out := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
