package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

const (
	// 默认 Key 前缀
	defaultKeyPrefix = "gw:presence:"
	// 在线状态过期时间，靠实例心跳续期
	DefaultTTL = 3 * time.Minute
)

// PresenceStore Redis 在线状态存储
//
//	{prefix}user:{userID}        string，PresenceEntry 的 JSON
//	{prefix}guild:{guildID}      set，在线成员
//	{prefix}channel:{channelID}  set，在线成员
//	{prefix}instance:{id}        string，实例心跳
//
// 所有 key 都带 TTL，实例崩溃后残留的数据最多保留一个 TTL
type PresenceStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ out.PresenceStore = (*PresenceStore)(nil)

// NewPresenceStore prefix 为空时使用默认前缀，ttl 不大于 0 时使用 DefaultTTL
func NewPresenceStore(client redis.UniversalClient, prefix string, ttl time.Duration) *PresenceStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PresenceStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *PresenceStore) instanceKey(id string) string {
	return s.prefix + "instance:" + id
}

func (s *PresenceStore) entryKey(userID uint64) string {
	return fmt.Sprintf("%suser:%d", s.prefix, userID)
}

func (s *PresenceStore) scopeKey(scope entity.ScopeKey) string {
	return fmt.Sprintf("%s%s:%d", s.prefix, scope.Kind, scope.ID)
}

func (s *PresenceStore) GetEntry(ctx context.Context, userID uint64) (*entity.PresenceEntry, error) {
	data, err := s.client.Get(ctx, s.entryKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var entry entity.PresenceEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode presence entry %d: %w", userID, err)
	}
	return &entry, nil
}

func (s *PresenceStore) SetEntry(ctx context.Context, entry *entity.PresenceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.entryKey(entry.UserID), data, s.ttl).Err()
}

func (s *PresenceStore) DeleteEntry(ctx context.Context, userID uint64) error {
	return s.client.Del(ctx, s.entryKey(userID)).Err()
}

func (s *PresenceStore) AddMember(ctx context.Context, userID uint64, scopes []entity.ScopeKey) error {
	if len(scopes) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sc := range scopes {
			key := s.scopeKey(sc)
			pipe.SAdd(ctx, key, userID)
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	return err
}

// RemoveMember 集合被清空后 Redis 会自动删除该 key
func (s *PresenceStore) RemoveMember(ctx context.Context, userID uint64, scopes []entity.ScopeKey) error {
	if len(scopes) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sc := range scopes {
			pipe.SRem(ctx, s.scopeKey(sc), userID)
		}
		return nil
	})
	return err
}

func (s *PresenceStore) Members(ctx context.Context, scope entity.ScopeKey) ([]uint64, error) {
	raw, err := s.client.SMembers(ctx, s.scopeKey(scope)).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(raw))
	for _, v := range raw {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Touch 续期条目和 scope 集合，已过期的 key 不会被重建
func (s *PresenceStore) Touch(ctx context.Context, userID uint64, scopes []entity.ScopeKey) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, s.entryKey(userID), s.ttl)
		for _, sc := range scopes {
			pipe.Expire(ctx, s.scopeKey(sc), s.ttl)
		}
		return nil
	})
	return err
}

func (s *PresenceStore) Heartbeat(ctx context.Context, instanceID string) error {
	return s.client.Set(ctx, s.instanceKey(instanceID), time.Now().Unix(), s.ttl).Err()
}

func (s *PresenceStore) LiveInstances(ctx context.Context, ids []string) (map[string]bool, error) {
	alive := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return alive, nil
	}
	cmds := make([]*redis.IntCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.Exists(ctx, s.instanceKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		if cmds[i].Val() > 0 {
			alive[id] = true
		}
	}
	return alive, nil
}
