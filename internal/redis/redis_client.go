package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

// backlogCap bounds the per-room message backlog kept for history serving.
const backlogCap = 1000

// RedisClient holds the relay's state: presence, per-room message
// backlogs, unread counters, read high-water marks, and the room
// directory.
type RedisClient struct {
	client *redis.Client
	log    logger.Logger
}

func NewRedisClient(ctx context.Context, redisURL string) (*RedisClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client, log: logger.FromContext(ctx).WithModule("redis")}, nil
}

// Presence

func (r *RedisClient) AddActiveUser(ctx context.Context, userID string) error {
	return r.client.SAdd(ctx, "active_users", userID).Err()
}

func (r *RedisClient) RemoveActiveUser(ctx context.Context, userID string) error {
	return r.client.SRem(ctx, "active_users", userID).Err()
}

func (r *RedisClient) GetActiveUsers(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, "active_users").Result()
}

func (r *RedisClient) IsUserActive(ctx context.Context, userID string) (bool, error) {
	return r.client.SIsMember(ctx, "active_users", userID).Result()
}

// Message backlog. Stored as a sorted set scored by create time so the
// history endpoint can page backwards from an arbitrary cutoff.

func backlogKey(roomID string) string { return "room:" + roomID + ":messages" }

func (r *RedisClient) AppendMessage(ctx context.Context, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	key := backlogKey(msg.RoomID)
	if err := r.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.CreatedAt.UnixNano()),
		Member: data,
	}).Err(); err != nil {
		return err
	}
	return r.client.ZRemRangeByRank(ctx, key, 0, int64(-backlogCap-1)).Err()
}

// MessagesBefore returns up to limit messages created strictly before the
// cutoff, oldest first.
func (r *RedisClient) MessagesBefore(ctx context.Context, roomID string, before time.Time, limit int) ([]domain.Message, error) {
	raw, err := r.client.ZRevRangeByScore(ctx, backlogKey(roomID), &redis.ZRangeBy{
		Max:   "(" + strconv.FormatInt(before.UnixNano(), 10),
		Min:   "-inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	msgs := make([]domain.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg domain.Message
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			r.log.Warnf("skipping corrupt backlog entry in room %s: %v", roomID, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// DeleteMessage removes a message from the backlog by id.
func (r *RedisClient) DeleteMessage(ctx context.Context, roomID, messageID string) error {
	key := backlogKey(roomID)
	raw, err := r.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, member := range raw {
		var msg domain.Message
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			continue
		}
		if msg.ID == messageID {
			return r.client.ZRem(ctx, key, member).Err()
		}
	}
	return nil
}

// Unread counters, per user keyed by room.

func unreadKey(userID string) string { return "unread:" + userID }

func (r *RedisClient) IncrUnread(ctx context.Context, userID, roomID string) error {
	return r.client.HIncrBy(ctx, unreadKey(userID), roomID, 1).Err()
}

func (r *RedisClient) ClearUnread(ctx context.Context, userID, roomID string) error {
	return r.client.HDel(ctx, unreadKey(userID), roomID).Err()
}

func (r *RedisClient) UnreadCounts(ctx context.Context, userID string) (map[string]int64, error) {
	raw, err := r.client.HGetAll(ctx, unreadKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(raw))
	for roomID, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		counts[roomID] = n
	}
	return counts, nil
}

// Read high-water marks, per room keyed by reader.

func readKey(roomID string) string { return "room:" + roomID + ":read" }

func (r *RedisClient) SetReadAt(ctx context.Context, roomID, userID string, at time.Time) error {
	return r.client.HSet(ctx, readKey(roomID), userID, at.UTC().Format(time.RFC3339Nano)).Err()
}

func (r *RedisClient) ReadAt(ctx context.Context, roomID, userID string) (time.Time, bool, error) {
	v, err := r.client.HGet(ctx, readKey(roomID), userID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt read mark for room %s: %w", roomID, err)
	}
	return at, true, nil
}

// Room directory. Rooms are stored by id with a listing index so a
// buyer/listing pair always resolves to the same room.

func roomKey(roomID string) string { return "room:" + roomID }

func listingKey(listingID, buyerID string) string {
	return "listing:" + listingID + ":buyer:" + buyerID
}

func (r *RedisClient) SaveRoom(ctx context.Context, room domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to serialize room: %w", err)
	}
	if err := r.client.Set(ctx, roomKey(room.ID), data, 0).Err(); err != nil {
		return err
	}
	return r.client.Set(ctx, listingKey(room.ListingID, room.BuyerID), room.ID, 0).Err()
}

func (r *RedisClient) GetRoom(ctx context.Context, roomID string) (domain.Room, bool, error) {
	data, err := r.client.Get(ctx, roomKey(roomID)).Result()
	if err == redis.Nil {
		return domain.Room{}, false, nil
	}
	if err != nil {
		return domain.Room{}, false, err
	}
	var room domain.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return domain.Room{}, false, fmt.Errorf("corrupt room record %s: %w", roomID, err)
	}
	return room, true, nil
}

func (r *RedisClient) RoomIDForListing(ctx context.Context, listingID, buyerID string) (string, bool, error) {
	id, err := r.client.Get(ctx, listingKey(listingID, buyerID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// FlushAll clears the database, test use only.
func (r *RedisClient) FlushAll(ctx context.Context) error {
	return r.client.FlushAll(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
