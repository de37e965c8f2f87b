package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"signaling-service/internal/database"

	"github.com/redis/go-redis/v9"
)

const onlineUsersKey = "signaling:online_users"

// PresenceService mirrors relay presence into Redis so other services can see
// who is online and which rooms are active. The relay never reads it back.
type PresenceService struct {
	client *database.RedisClient
	logger *slog.Logger
}

func NewPresenceService(client *database.RedisClient, logger *slog.Logger) *PresenceService {
	return &PresenceService{
		client: client,
		logger: logger.With("component", "presence"),
	}
}

func userStatusKey(userID string) string {
	return fmt.Sprintf("signaling:user:%s:status", userID)
}

func userRoomsKey(userID string) string {
	return fmt.Sprintf("signaling:user:%s:rooms", userID)
}

func roomMembersKey(roomID string) string {
	return fmt.Sprintf("signaling:room:%s:members", roomID)
}

// =============================================================================
// User Status Management
// =============================================================================

func (p *PresenceService) SetUserOnline(ctx context.Context, userID string) error {
	now := time.Now().Unix()
	pipe := p.client.GetClient().Pipeline()

	pipe.SAdd(ctx, onlineUsersKey, userID)
	pipe.HSet(ctx, userStatusKey(userID), map[string]interface{}{
		"status":     "online",
		"last_seen":  now,
		"updated_at": now,
	})
	pipe.Expire(ctx, userStatusKey(userID), 5*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set user %s online: %w", userID, err)
	}

	p.logger.Debug("User set to online", "userID", userID)
	return nil
}

func (p *PresenceService) SetUserOffline(ctx context.Context, userID string) error {
	now := time.Now().Unix()
	pipe := p.client.GetClient().Pipeline()

	pipe.SRem(ctx, onlineUsersKey, userID)
	pipe.HSet(ctx, userStatusKey(userID), map[string]interface{}{
		"status":     "offline",
		"last_seen":  now,
		"updated_at": now,
	})
	// Offline status is kept longer for "last seen" lookups
	pipe.Expire(ctx, userStatusKey(userID), 24*time.Hour)
	pipe.Del(ctx, userRoomsKey(userID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set user %s offline: %w", userID, err)
	}

	p.logger.Debug("User set to offline", "userID", userID)
	return nil
}

func (p *PresenceService) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	return p.client.GetClient().SIsMember(ctx, onlineUsersKey, userID).Result()
}

func (p *PresenceService) GetOnlineUsers(ctx context.Context) ([]string, error) {
	return p.client.GetClient().SMembers(ctx, onlineUsersKey).Result()
}

// =============================================================================
// Room Membership
// =============================================================================

func (p *PresenceService) AddRoomMember(ctx context.Context, roomID, userID string) error {
	pipe := p.client.GetClient().Pipeline()

	pipe.SAdd(ctx, roomMembersKey(roomID), userID)
	pipe.SAdd(ctx, userRoomsKey(userID), roomID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add %s to room %s: %w", userID, roomID, err)
	}
	return nil
}

func (p *PresenceService) RemoveRoomMember(ctx context.Context, roomID, userID string) error {
	pipe := p.client.GetClient().Pipeline()

	pipe.SRem(ctx, roomMembersKey(roomID), userID)
	pipe.SRem(ctx, userRoomsKey(userID), roomID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove %s from room %s: %w", userID, roomID, err)
	}
	return nil
}

func (p *PresenceService) GetRoomMembers(ctx context.Context, roomID string) ([]string, error) {
	return p.client.GetClient().SMembers(ctx, roomMembersKey(roomID)).Result()
}

func (p *PresenceService) GetUserRooms(ctx context.Context, userID string) ([]string, error) {
	return p.client.GetClient().SMembers(ctx, userRoomsKey(userID)).Result()
}

// =============================================================================
// Rate Limiting
// =============================================================================

// CheckRateLimit records one hit against key and reports whether fewer than
// limit hits fell inside the sliding window before it.
func (p *PresenceService) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window).UnixMilli()

	pipe := p.client.GetClient().Pipeline()

	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	return count.Val() < int64(limit), nil
}
