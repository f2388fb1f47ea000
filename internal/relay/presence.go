package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/1ureka/mentorcall/internal/config"
	"github.com/1ureka/mentorcall/internal/protocol"
)

// Presence records which users are in which call, across relay instances.
type Presence interface {
	Add(ctx context.Context, callID, userID protocol.ID) error
	Remove(ctx context.Context, callID, userID protocol.ID) error
	Members(ctx context.Context, callID protocol.ID) ([]string, error)
	Close() error
}

const presenceTTL = 24 * time.Hour

func presenceKey(callID protocol.ID) string { return "call:" + string(callID) + ":participants" }

// RedisPresence keeps one set per call with a sliding TTL.
type RedisPresence struct {
	client *redis.Client
}

// NewRedisPresence connects to redis and checks the connection.
func NewRedisPresence(ctx context.Context, cfg config.RedisConfig) (*RedisPresence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisPresence{client: client}, nil
}

func (p *RedisPresence) Add(ctx context.Context, callID, userID protocol.ID) error {
	key := presenceKey(callID)
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, key, string(userID))
	pipe.Expire(ctx, key, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPresence) Remove(ctx context.Context, callID, userID protocol.ID) error {
	return p.client.SRem(ctx, presenceKey(callID), string(userID)).Err()
}

func (p *RedisPresence) Members(ctx context.Context, callID protocol.ID) ([]string, error) {
	members, err := p.client.SMembers(ctx, presenceKey(callID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

func (p *RedisPresence) Close() error { return p.client.Close() }

// MemoryPresence is the single-instance fallback.
type MemoryPresence struct {
	mu    sync.Mutex
	calls map[protocol.ID]map[string]struct{}
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{calls: make(map[protocol.ID]map[string]struct{})}
}

func (p *MemoryPresence) Add(_ context.Context, callID, userID protocol.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls[callID] == nil {
		p.calls[callID] = make(map[string]struct{})
	}
	p.calls[callID][string(userID)] = struct{}{}
	return nil
}

func (p *MemoryPresence) Remove(_ context.Context, callID, userID protocol.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.calls[callID], string(userID))
	if len(p.calls[callID]) == 0 {
		delete(p.calls, callID)
	}
	return nil
}

func (p *MemoryPresence) Members(_ context.Context, callID protocol.ID) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	members := make([]string, 0, len(p.calls[callID]))
	for id := range p.calls[callID] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members, nil
}

func (p *MemoryPresence) Close() error { return nil }
