package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

// PresenceStore 单实例部署用的在线状态存储，读写都做拷贝
//
// 条目和索引不过期，进程退出即清空；只有实例心跳按 TTL 过期
type PresenceStore struct {
	mu        sync.RWMutex
	entries   map[uint64]*entity.PresenceEntry
	members   map[entity.ScopeKey]map[uint64]struct{}
	instances map[string]time.Time

	ttl time.Duration
	now func() time.Time
}

var _ out.PresenceStore = (*PresenceStore)(nil)

// PresenceStoreOption 配置内存存储
type PresenceStoreOption func(*PresenceStore)

// WithHeartbeatTTL 实例心跳的有效期，默认 3 分钟
func WithHeartbeatTTL(ttl time.Duration) PresenceStoreOption {
	return func(s *PresenceStore) { s.ttl = ttl }
}

func WithStoreClock(now func() time.Time) PresenceStoreOption {
	return func(s *PresenceStore) { s.now = now }
}

// NewPresenceStore 创建内存存储
func NewPresenceStore(opts ...PresenceStoreOption) *PresenceStore {
	s := &PresenceStore{
		entries:   make(map[uint64]*entity.PresenceEntry),
		members:   make(map[entity.ScopeKey]map[uint64]struct{}),
		instances: make(map[string]time.Time),
		ttl:       3 * time.Minute,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PresenceStore) GetEntry(_ context.Context, userID uint64) (*entity.PresenceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[userID].Clone(), nil
}

func (s *PresenceStore) SetEntry(_ context.Context, entry *entity.PresenceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.UserID] = entry.Clone()
	return nil
}

func (s *PresenceStore) DeleteEntry(_ context.Context, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}

func (s *PresenceStore) AddMember(_ context.Context, userID uint64, scopes []entity.ScopeKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range scopes {
		set, ok := s.members[sc]
		if !ok {
			set = make(map[uint64]struct{})
			s.members[sc] = set
		}
		set[userID] = struct{}{}
	}
	return nil
}

func (s *PresenceStore) RemoveMember(_ context.Context, userID uint64, scopes []entity.ScopeKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range scopes {
		set, ok := s.members[sc]
		if !ok {
			continue
		}
		delete(set, userID)
		if len(set) == 0 {
			delete(s.members, sc)
		}
	}
	return nil
}

func (s *PresenceStore) Members(_ context.Context, scope entity.ScopeKey) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.members[scope]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Touch 内存里的条目不过期
func (s *PresenceStore) Touch(context.Context, uint64, []entity.ScopeKey) error {
	return nil
}

func (s *PresenceStore) Heartbeat(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instanceID] = s.now().Add(s.ttl)
	return nil
}

func (s *PresenceStore) LiveInstances(_ context.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	alive := make(map[string]bool, len(ids))
	for _, id := range ids {
		if deadline, ok := s.instances[id]; ok && now.Before(deadline) {
			alive[id] = true
		}
	}
	return alive, nil
}

// ScopeCount 当前非空索引数量
func (s *PresenceStore) ScopeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}
