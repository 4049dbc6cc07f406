package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/pool"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
	"github.com/EthanQC/guildgate/pkg/zlog"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/in"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

type sessionRefresher interface {
	Refresh(ctx context.Context, connID, token string) error
}

// RouterService 计算接收者并投递到本实例上的连接
type RouterService struct {
	presence   in.PresenceUseCase
	perms      *PermissionService
	membership out.MembershipRepository
	registry   out.ConnectionRegistry
	sessions   sessionRefresher
	metrics    out.Metrics
	workers    int
}

var _ in.RouterUseCase = (*RouterService)(nil)

// RouterOption 配置 RouterService
type RouterOption func(*RouterService)

// WithFanoutWorkers 权限过滤和 scope 读取的并发度
func WithFanoutWorkers(n int) RouterOption {
	return func(r *RouterService) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithRouterMetrics(m out.Metrics) RouterOption {
	return func(r *RouterService) { r.metrics = m }
}

// NewRouterService 创建事件分发用例
func NewRouterService(
	presence in.PresenceUseCase,
	perms *PermissionService,
	membership out.MembershipRepository,
	registry out.ConnectionRegistry,
	sessions sessionRefresher,
	opts ...RouterOption,
) *RouterService {
	r := &RouterService{
		presence:   presence,
		perms:      perms,
		membership: membership,
		registry:   registry,
		sessions:   sessions,
		metrics:    out.NopMetrics{},
		workers:    16,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route 分发一个事件；单个接收者失败不影响其他接收者
func (r *RouterService) Route(ctx context.Context, ev *entity.Event) (in.RouteResult, error) {
	var res in.RouteResult

	route, err := ev.Route()
	if err != nil {
		r.metrics.EventRejected("invalid")
		return res, err
	}
	ctx = zlog.With(ctx, zlog.Event(ev.Name))

	if route.Scope == entity.RouteSession {
		return res, r.routeSession(ctx, route.SessionID, ev)
	}

	frame, err := ev.Encode()
	if err != nil {
		r.metrics.EventRejected("encode")
		return res, fmt.Errorf("encode %s: %w", ev.Name, err)
	}

	recipients, err := r.recipients(ctx, route)
	if err != nil {
		r.metrics.EventRejected("recipients")
		return res, err
	}

	if route.FilterChannelID != 0 && len(recipients) > 0 {
		allowed, err := r.filterByView(ctx, route.ID, route.FilterChannelID, recipients)
		if err != nil {
			r.metrics.EventRejected("permission")
			return res, err
		}
		res.Filtered = len(recipients) - len(allowed)
		recipients = allowed
	}

	res.Recipients = len(recipients)
	for _, uid := range recipients {
		for _, conn := range r.registry.ConnectionsOf(uid) {
			if conn.Send(frame) {
				res.Delivered++
			} else {
				res.Dropped++
			}
		}
	}

	r.metrics.EventRouted(route.Category.String(), res.Delivered, res.Dropped, res.Filtered)
	if res.Dropped > 0 {
		zlog.C(ctx).Warn("部分连接投递失败", zlog.Int("dropped", res.Dropped))
	}
	return res, nil
}

func (r *RouterService) routeSession(ctx context.Context, connID string, ev *entity.Event) error {
	var payload entity.SessionTokenPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.Token == "" {
		r.metrics.EventRejected("invalid")
		return fmt.Errorf("%w: session.token without token", gwerrors.ErrMissingRoutingKey)
	}
	if err := r.sessions.Refresh(ctx, connID, payload.Token); err != nil {
		// 会话在其他实例上
		if errors.Is(err, gwerrors.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// recipients 去重后的接收用户，按ID排序
func (r *RouterService) recipients(ctx context.Context, route entity.Route) ([]uint64, error) {
	switch route.Scope {
	case entity.RouteGuild:
		return uniq(r.presence.Members(ctx, entity.GuildScope(route.ID))), nil
	case entity.RouteChannel:
		return uniq(r.presence.Members(ctx, entity.ChannelScope(route.ID))), nil
	case entity.RouteUser:
		scopes, err := r.subjectScopes(ctx, route.ID)
		if err != nil {
			return nil, err
		}
		p := pool.NewWithResults[[]uint64]().WithMaxGoroutines(r.workers)
		for _, sc := range scopes {
			p.Go(func() []uint64 { return r.presence.Members(ctx, sc) })
		}
		return uniq(slices.Concat(p.Wait()...)), nil
	default:
		return nil, fmt.Errorf("%w: scope %s", gwerrors.ErrUnknownEvent, route.Scope)
	}
}

// subjectScopes 主体用户所在的全部 scope；不在线时回查成员关系
func (r *RouterService) subjectScopes(ctx context.Context, userID uint64) ([]entity.ScopeKey, error) {
	entry, err := r.presence.Entry(ctx, userID)
	if err != nil {
		zlog.C(ctx).Warn("读取主体在线条目失败，回查成员关系", zlog.UserID(userID), zlog.Err(err))
	}
	if entry != nil {
		return entry.Scopes(), nil
	}

	guildIDs, err := r.membership.GuildIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load guilds of user %d: %w", userID, err)
	}
	channelIDs, err := r.membership.ChannelIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load channels of user %d: %w", userID, err)
	}
	return entity.NewPresenceEntry(userID, guildIDs, channelIDs, "").Scopes(), nil
}

// filterByView 只保留能看到频道的接收者；计算失败的接收者被排除
func (r *RouterService) filterByView(ctx context.Context, guildID, channelID uint64, users []uint64) ([]uint64, error) {
	filter, err := r.perms.NewChannelViewFilter(ctx, guildID, channelID)
	if err != nil {
		return nil, err
	}

	mapper := iter.Mapper[uint64, bool]{MaxGoroutines: r.workers}
	ok := mapper.Map(users, func(uid *uint64) bool {
		allowed, err := filter.CanView(ctx, *uid)
		switch {
		case err == nil:
			return allowed
		case errors.Is(err, gwerrors.ErrNotFound):
			zlog.C(ctx).Debug("接收者不是 guild 成员，跳过", zlog.UserID(*uid), zlog.Err(err))
		default:
			zlog.C(ctx).Warn("接收者权限计算失败，跳过", zlog.UserID(*uid), zlog.Err(err))
		}
		return false
	})

	allowed := make([]uint64, 0, len(users))
	for i, uid := range users {
		if ok[i] {
			allowed = append(allowed, uid)
		}
	}
	return allowed, nil
}

func uniq(ids []uint64) []uint64 {
	slices.Sort(ids)
	return slices.Compact(ids)
}
