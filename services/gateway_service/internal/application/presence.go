package application

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EthanQC/guildgate/pkg/zlog"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/in"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

// PresenceService 在线状态索引
//
// 写顺序：上线先写成员索引再写条目，下线先删条目再删索引。中途失败只会在索引里留下
// 没有条目的用户，下次该用户上线或下线时自然修复。
//
// 每条连接记下所属实例。实例崩溃后它的连接不会再有下线事件，读到条目时把心跳已过期
// 的实例的连接剔除；本实例靠 Run 定期心跳并续期自己持有的条目。
type PresenceService struct {
	store      out.PresenceStore
	membership out.MembershipRepository
	publisher  out.EventPublisher
	metrics    out.Metrics
	retry      RetryPolicy
	locks      *userLocks
	inflight   sync.WaitGroup
	instanceID string

	// 本实例持有连接的用户，心跳时续期
	localMu sync.Mutex
	local   map[uint64]*localPresence

	// 每个 scope 最近一次成功读到的成员，存储不可用时兜底
	snapMu       sync.RWMutex
	snapshots    map[entity.ScopeKey]memberSnapshot
	snapMaxAge   time.Duration
	snapMaxCount int
	now          func() time.Time
}

type localPresence struct {
	conns  map[string]struct{}
	scopes []entity.ScopeKey
}

type memberSnapshot struct {
	ids []uint64
	at  time.Time
}

const (
	defaultSnapshotMaxAge   = 5 * time.Minute
	defaultSnapshotMaxCount = 4096
)

var _ in.PresenceUseCase = (*PresenceService)(nil)

// PresenceOption 配置 PresenceService
type PresenceOption func(*PresenceService)

// WithPublisher 上线/下线时发布 user.presence
func WithPublisher(p out.EventPublisher) PresenceOption {
	return func(s *PresenceService) { s.publisher = p }
}

func WithPresenceMetrics(m out.Metrics) PresenceOption {
	return func(s *PresenceService) { s.metrics = m }
}

func WithRetryPolicy(p RetryPolicy) PresenceOption {
	return func(s *PresenceService) { s.retry = p }
}

// WithInstanceID 本实例的标识，多实例共享存储时必须互不相同，默认随机生成
func WithInstanceID(id string) PresenceOption {
	return func(s *PresenceService) { s.instanceID = id }
}

// WithSnapshotLimits 快照最长保留时间和最多保留的 scope 数
func WithSnapshotLimits(maxAge time.Duration, maxCount int) PresenceOption {
	return func(s *PresenceService) {
		s.snapMaxAge = maxAge
		s.snapMaxCount = maxCount
	}
}

func withPresenceClock(now func() time.Time) PresenceOption {
	return func(s *PresenceService) { s.now = now }
}

// NewPresenceService 创建在线状态用例
func NewPresenceService(store out.PresenceStore, membership out.MembershipRepository, opts ...PresenceOption) *PresenceService {
	s := &PresenceService{
		store:        store,
		membership:   membership,
		metrics:      out.NopMetrics{},
		retry:        DefaultRetryPolicy,
		locks:        newUserLocks(),
		instanceID:   uuid.NewString(),
		local:        make(map[uint64]*localPresence),
		snapshots:    make(map[entity.ScopeKey]memberSnapshot),
		snapMaxAge:   defaultSnapshotMaxAge,
		snapMaxCount: defaultSnapshotMaxCount,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InstanceID 本实例标识
func (s *PresenceService) InstanceID() string { return s.instanceID }

// OnConnect 记录一条新连接；用户的第一条连接会拉取一次成员关系并建立索引
func (s *PresenceService) OnConnect(ctx context.Context, userID uint64, connID string) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	entry, err := s.getEntry(ctx, userID)
	if err != nil {
		return err
	}

	var stale []entity.ScopeKey
	if entry != nil {
		s.pruneDead(ctx, entry)
		if entry.Empty() {
			// 残留条目的连接全部属于已下线的实例，按首次上线重建
			stale = entry.Scopes()
			entry = nil
		}
	}
	if entry != nil {
		if !entry.AddConnection(connID, s.instanceID) {
			return nil
		}
		if err := s.setEntry(ctx, entry); err != nil {
			return err
		}
		s.trackLocal(userID, connID, entry.Scopes())
		return nil
	}

	guildIDs, err := s.membership.GuildIDsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load guilds of user %d: %w", userID, err)
	}
	channelIDs, err := s.membership.ChannelIDsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load channels of user %d: %w", userID, err)
	}

	entry = entity.NewPresenceEntry(userID, guildIDs, channelIDs, connID)
	entry.SetOwner(connID, s.instanceID)
	scopes := entry.Scopes()
	if len(scopes) > 0 {
		err = retryStoreErr(ctx, s.retry, "add_member", func() error {
			return s.store.AddMember(ctx, userID, scopes)
		})
		if err != nil {
			s.metrics.StoreError("add_member")
			return err
		}
	}
	if err := s.setEntry(ctx, entry); err != nil {
		return err
	}
	if stale = subtractScopes(stale, scopes); len(stale) > 0 {
		if err := s.removeMember(ctx, userID, stale); err != nil {
			// 残留索引随 TTL 过期，不影响本次上线
			zlog.C(ctx).Warn("清理残留索引失败", zlog.UserID(userID), zlog.Err(err))
		}
	}
	s.trackLocal(userID, connID, scopes)

	zlog.C(ctx).Debug("用户上线",
		zlog.UserID(userID), zlog.ConnID(connID),
		zlog.Int("guilds", len(entry.GuildIDs)), zlog.Int("channels", len(entry.ChannelIDs)))
	s.publish(userID, entity.PresenceStatusOnline)
	return nil
}

// OnDisconnect 移除连接；最后一条连接断开时撤销全部索引并删除条目
func (s *PresenceService) OnDisconnect(ctx context.Context, userID uint64, connID string) error {
	unlock := s.locks.lock(userID)
	defer unlock()
	s.untrackLocal(userID, connID)

	entry, err := s.getEntry(ctx, userID)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	removed := entry.RemoveConnection(connID)
	if pruned := s.pruneDead(ctx, entry); !removed && pruned == 0 {
		return nil
	}
	if !entry.Empty() {
		return s.setEntry(ctx, entry)
	}

	err = retryStoreErr(ctx, s.retry, "delete_entry", func() error {
		return s.store.DeleteEntry(ctx, userID)
	})
	if err != nil {
		s.metrics.StoreError("delete_entry")
		return err
	}
	if scopes := entry.Scopes(); len(scopes) > 0 {
		if err := s.removeMember(ctx, userID, scopes); err != nil {
			return err
		}
	}

	zlog.C(ctx).Debug("用户下线", zlog.UserID(userID), zlog.ConnID(connID))
	s.publish(userID, entity.PresenceStatusOffline)
	return nil
}

// Heartbeat 刷新本实例心跳，续期本实例持有的条目，并清理过期快照
func (s *PresenceService) Heartbeat(ctx context.Context) error {
	err := retryStoreErr(ctx, s.retry, "heartbeat", func() error {
		return s.store.Heartbeat(ctx, s.instanceID)
	})
	if err != nil {
		s.metrics.StoreError("heartbeat")
		return err
	}

	s.localMu.Lock()
	touch := make(map[uint64][]entity.ScopeKey, len(s.local))
	for userID, lp := range s.local {
		touch[userID] = lp.scopes
	}
	s.localMu.Unlock()

	for userID, scopes := range touch {
		if err := s.store.Touch(ctx, userID, scopes); err != nil {
			s.metrics.StoreError("touch")
			zlog.C(ctx).Warn("续期在线条目失败", zlog.UserID(userID), zlog.Err(err))
		}
	}
	s.sweepSnapshots()
	return nil
}

// Run 按 interval 心跳直到 ctx 结束；interval 要明显小于存储的 TTL
func (s *PresenceService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Heartbeat(ctx); err != nil && ctx.Err() == nil {
			zlog.C(ctx).Warn("在线状态心跳失败", zlog.String("instance", s.instanceID), zlog.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pruneDead 剔除心跳已过期的实例的连接，查询失败时不剔除；返回剔除数量
func (s *PresenceService) pruneDead(ctx context.Context, entry *entity.PresenceEntry) int {
	var others []string
	for _, inst := range entry.OwnerInstances() {
		if inst != s.instanceID {
			others = append(others, inst)
		}
	}
	if len(others) == 0 {
		return 0
	}

	alive, err := retryStore(ctx, s.retry, "live_instances", func() (map[string]bool, error) {
		return s.store.LiveInstances(ctx, others)
	})
	if err != nil {
		s.metrics.StoreError("live_instances")
		zlog.C(ctx).Warn("查询实例心跳失败，跳过清理", zlog.UserID(entry.UserID), zlog.Err(err))
		return 0
	}
	alive[s.instanceID] = true

	removed := entry.PruneOwners(alive)
	if len(removed) > 0 {
		zlog.C(ctx).Info("剔除已下线实例的残留连接",
			zlog.UserID(entry.UserID), zlog.Any("connections", removed))
	}
	return len(removed)
}

func (s *PresenceService) removeMember(ctx context.Context, userID uint64, scopes []entity.ScopeKey) error {
	err := retryStoreErr(ctx, s.retry, "remove_member", func() error {
		return s.store.RemoveMember(ctx, userID, scopes)
	})
	if err != nil {
		s.metrics.StoreError("remove_member")
	}
	return err
}

func (s *PresenceService) trackLocal(userID uint64, connID string, scopes []entity.ScopeKey) {
	s.localMu.Lock()
	defer s.localMu.Unlock()
	lp, ok := s.local[userID]
	if !ok {
		lp = &localPresence{conns: make(map[string]struct{})}
		s.local[userID] = lp
	}
	lp.conns[connID] = struct{}{}
	lp.scopes = scopes
}

func (s *PresenceService) untrackLocal(userID uint64, connID string) {
	s.localMu.Lock()
	defer s.localMu.Unlock()
	lp, ok := s.local[userID]
	if !ok {
		return
	}
	delete(lp.conns, connID)
	if len(lp.conns) == 0 {
		delete(s.local, userID)
	}
}

func subtractScopes(from, remove []entity.ScopeKey) []entity.ScopeKey {
	if len(from) == 0 {
		return nil
	}
	var rest []entity.ScopeKey
	for _, sc := range from {
		if !slices.Contains(remove, sc) {
			rest = append(rest, sc)
		}
	}
	return rest
}

// Entry 返回用户条目的副本
func (s *PresenceService) Entry(ctx context.Context, userID uint64) (*entity.PresenceEntry, error) {
	entry, err := s.getEntry(ctx, userID)
	if err != nil {
		return nil, err
	}
	return entry.Clone(), nil
}

// Members 读取 scope 的在线成员，失败时退化为最近一次快照，没有快照则返回空
func (s *PresenceService) Members(ctx context.Context, scope entity.ScopeKey) []uint64 {
	ids, err := retryStore(ctx, s.retry, "members", func() ([]uint64, error) {
		return s.store.Members(ctx, scope)
	})
	if err == nil {
		s.saveSnapshot(scope, ids)
		return ids
	}

	s.metrics.StoreError("members")
	s.snapMu.RLock()
	snap, ok := s.snapshots[scope]
	s.snapMu.RUnlock()
	if !ok || s.now().Sub(snap.at) > s.snapMaxAge {
		zlog.C(ctx).Warn("在线成员读取失败且没有可用快照，本次按空处理",
			zlog.String("scope", scope.String()), zlog.Err(err))
		return nil
	}
	zlog.C(ctx).Warn("在线成员读取失败，使用最近一次快照",
		zlog.String("scope", scope.String()), zlog.Int("members", len(snap.ids)), zlog.Err(err))
	return slices.Clone(snap.ids)
}

// SnapshotCount 当前保留的快照数
func (s *PresenceService) SnapshotCount() int {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return len(s.snapshots)
}

func (s *PresenceService) saveSnapshot(scope entity.ScopeKey, ids []uint64) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if len(ids) == 0 {
		delete(s.snapshots, scope)
		return
	}
	if _, ok := s.snapshots[scope]; !ok && len(s.snapshots) >= s.snapMaxCount {
		s.evictOldestLocked()
	}
	s.snapshots[scope] = memberSnapshot{ids: slices.Clone(ids), at: s.now()}
}

// evictOldestLocked 先清过期快照，仍然满了就淘汰最旧的一个
func (s *PresenceService) evictOldestLocked() {
	s.sweepLocked()
	if len(s.snapshots) < s.snapMaxCount {
		return
	}
	var (
		oldest entity.ScopeKey
		at     time.Time
		found  bool
	)
	for k, snap := range s.snapshots {
		if !found || snap.at.Before(at) {
			oldest, at, found = k, snap.at, true
		}
	}
	delete(s.snapshots, oldest)
}

func (s *PresenceService) sweepSnapshots() {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.sweepLocked()
}

func (s *PresenceService) sweepLocked() {
	now := s.now()
	for k, snap := range s.snapshots {
		if now.Sub(snap.at) > s.snapMaxAge {
			delete(s.snapshots, k)
		}
	}
}

func (s *PresenceService) getEntry(ctx context.Context, userID uint64) (*entity.PresenceEntry, error) {
	entry, err := retryStore(ctx, s.retry, "get_entry", func() (*entity.PresenceEntry, error) {
		return s.store.GetEntry(ctx, userID)
	})
	if err != nil {
		s.metrics.StoreError("get_entry")
	}
	return entry, err
}

func (s *PresenceService) setEntry(ctx context.Context, entry *entity.PresenceEntry) error {
	err := retryStoreErr(ctx, s.retry, "set_entry", func() error {
		return s.store.SetEntry(ctx, entry)
	})
	if err != nil {
		s.metrics.StoreError("set_entry")
	}
	return err
}

func (s *PresenceService) publish(userID uint64, status entity.PresenceStatus) {
	s.metrics.PresenceChanged(string(status))
	if s.publisher == nil {
		return
	}
	ev := &entity.PresenceEvent{UserID: userID, Status: status, Timestamp: time.Now()}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.PublishPresenceChange(ctx, ev); err != nil {
			zlog.Warn("发布在线状态事件失败", zlog.UserID(userID), zlog.String("status", string(status)), zlog.Err(err))
		}
	}()
}

// Drain 等待已发出的在线状态事件写完，ctx 到期先返回
func (s *PresenceService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
