package sessions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository implements Repository using Redis as the backing store.
// Records are stored as JSON under "<prefix><refreshToken>" with
// TTL = expiresAt - now, and each owner keeps a set of outstanding tokens
// under "<prefix>user:<userId>" so logout-all can find them.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository creates a Redis-based session repository. Prefix may be empty.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) key(refresh string) string {
	return r.prefix + refresh
}

func (r *RedisRepository) userKey(userID string) string {
	return r.prefix + "user:" + userID
}

func (r *RedisRepository) Save(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		// minimal TTL so Redis won't keep already-expired records
		ttl = time.Second
	}
	ok, err := r.client.SetNX(ctx, r.key(s.RefreshToken), b, ttl).Result()
	if err != nil {
		return mapStoreErr(err)
	}
	if !ok {
		return ErrDuplicateToken
	}
	if err := r.client.SAdd(ctx, r.userKey(s.UserID), s.RefreshToken).Err(); err != nil {
		// roll the credential back; a key missing from the owner set would be
		// invisible to DeleteAllForUser
		_ = r.client.Del(ctx, r.key(s.RefreshToken)).Err()
		return mapStoreErr(err)
	}
	// the owner set only needs to outlive its longest-lived member
	_ = r.client.Expire(ctx, r.userKey(s.UserID), ttl).Err()
	return nil
}

func (r *RedisRepository) IsValid(ctx context.Context, refresh string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := r.client.Exists(ctx, r.key(refresh)).Result()
	if err != nil {
		return false, mapStoreErr(err)
	}
	return n > 0, nil
}

func (r *RedisRepository) Delete(ctx context.Context, refresh string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	b, err := r.client.Get(ctx, r.key(refresh)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, mapStoreErr(err)
	}
	// DEL is the atomic claim: under concurrent rotation only one caller
	// observes a removal
	n, err := r.client.Del(ctx, r.key(refresh)).Result()
	if err != nil {
		return false, mapStoreErr(err)
	}
	var s Session
	if jsonErr := json.Unmarshal(b, &s); jsonErr == nil && s.UserID != "" {
		_ = r.client.SRem(ctx, r.userKey(s.UserID), refresh).Err()
	}
	return n > 0, nil
}

func (r *RedisRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	tokens, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return mapStoreErr(err)
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, tok := range tokens {
		keys = append(keys, r.key(tok))
	}
	keys = append(keys, r.userKey(userID))
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// PurgeExpired is a no-op for Redis: per-key TTLs already evict expired records.
func (r *RedisRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
