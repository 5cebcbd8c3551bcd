package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// ============================================================================
// RedisCache
// ============================================================================

const (
	redisRoomsKey   = "chatsync:rooms"   // hash: roomID -> room json
	redisRoomSetKey = "chatsync:roomset" // set of room ids with cached messages
)

func redisMsgsKey(roomID string) string  { return "chatsync:msgs:" + roomID }
func redisOrderKey(roomID string) string { return "chatsync:order:" + roomID }

// RedisCache is a CacheStore backed by a Redis server, for deployments that
// want the cache to outlive the local filesystem (or be shared across
// devices of the same user).
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis at redisURL (redis://...) and verifies the
// connection with a ping bounded by ctx.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetMessages(ctx context.Context, roomID string) ([]Message, error) {
	ids, err := c.client.ZRange(ctx, redisOrderKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read message order: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := c.client.HMGet(ctx, redisMsgsKey(roomID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	msgs := make([]Message, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // order entry without a body, skip
		}
		var m Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("failed to decode cached message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (c *RedisCache) SaveMessages(ctx context.Context, roomID string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	pipe := c.client.TxPipeline()
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode message %s: %w", m.ID, err)
		}
		pipe.HSet(ctx, redisMsgsKey(roomID), m.ID, string(data))
		pipe.ZAdd(ctx, redisOrderKey(roomID), redis.Z{
			Score:  float64(m.CreatedAt.UnixNano()),
			Member: m.ID,
		})
	}
	pipe.SAdd(ctx, redisRoomSetKey, roomID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save messages: %w", err)
	}
	return nil
}

func (c *RedisCache) GetChatRooms(ctx context.Context) ([]ChatRoom, error) {
	values, err := c.client.HGetAll(ctx, redisRoomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rooms: %w", err)
	}

	rooms := make([]ChatRoom, 0, len(values))
	for _, v := range values {
		var r ChatRoom
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("failed to decode cached room: %w", err)
		}
		rooms = append(rooms, r)
	}
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})
	return rooms, nil
}

func (c *RedisCache) SaveChatRooms(ctx context.Context, rooms []ChatRoom) error {
	if len(rooms) == 0 {
		return nil
	}

	pipe := c.client.TxPipeline()
	for _, r := range rooms {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode room %s: %w", r.ID, err)
		}
		pipe.HSet(ctx, redisRoomsKey, r.ID, string(data))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save rooms: %w", err)
	}
	return nil
}

func (c *RedisCache) UpdateChatRoom(ctx context.Context, roomID string, upd RoomUpdate) error {
	data, err := c.client.HGet(ctx, redisRoomsKey, roomID).Result()
	if err == redis.Nil {
		return nil // not cached yet
	}
	if err != nil {
		return fmt.Errorf("failed to read room %s: %w", roomID, err)
	}

	var room ChatRoom
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return fmt.Errorf("failed to decode cached room %s: %w", roomID, err)
	}
	upd.Apply(&room)

	encoded, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to encode room %s: %w", roomID, err)
	}
	if err := c.client.HSet(ctx, redisRoomsKey, roomID, string(encoded)).Err(); err != nil {
		return fmt.Errorf("failed to update room %s: %w", roomID, err)
	}
	return nil
}

func (c *RedisCache) DeleteChatRoom(ctx context.Context, roomID string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, redisMsgsKey(roomID), redisOrderKey(roomID))
	pipe.HDel(ctx, redisRoomsKey, roomID)
	pipe.SRem(ctx, redisRoomSetKey, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}
	return nil
}

func (c *RedisCache) Clear(ctx context.Context) error {
	roomIDs, err := c.client.SMembers(ctx, redisRoomSetKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list cached rooms: %w", err)
	}

	pipe := c.client.TxPipeline()
	for _, id := range roomIDs {
		pipe.Del(ctx, redisMsgsKey(id), redisOrderKey(id))
	}
	pipe.Del(ctx, redisRoomsKey, redisRoomSetKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
