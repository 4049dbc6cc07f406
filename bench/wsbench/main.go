package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/schollz/progressbar/v3"

	"github.com/EthanQC/guildgate/pkg/jwt"
)

// Config 压测配置
type Config struct {
	Target       string        // WebSocket URL
	Conns        int           // 总连接数
	Duration     time.Duration // 压测持续时间
	Ramp         time.Duration // 爬坡时间
	PingInterval time.Duration // 应用层 ping 间隔
	Secret       string        // 与网关一致的 HS256 密钥
	Issuer       string
	TokenTTL     time.Duration // 令牌有效期，设短一些可以压会话预警和刷新
	Refresh      bool          // 收到 session.expiring 时是否续期
	UserBase     uint64        // 第 i 条连接使用 UserBase + i%Users
	Users        int           // 不同用户数，小于连接数时模拟多端登录
	ClientType   string
	Output       string // text, json
	Verbose      bool
}

// Stats 统计数据
type Stats struct {
	mu sync.Mutex

	TotalAttempts int64
	SuccessConns  int64
	FailedConns   int64
	CurrentConns  int64

	ReadyLatencies []int64 // 拨号到收到 ready，纳秒
	PongLatencies  []int64 // ping 到 pong，纳秒

	PingsSent     int64
	PongsReceived int64
	Expiring      int64
	RefreshSent   int64
	Refreshed     int64
	ErrorFrames   int64
	DomainEvents  int64

	CloseCodes map[int]int64
	Errors     map[string]int64

	StartTime time.Time
	EndTime   time.Time
}

func (s *Stats) addError(key string) {
	if len(key) > 50 {
		key = key[:50]
	}
	s.mu.Lock()
	s.Errors[key]++
	s.mu.Unlock()
}

// Result 压测结果
type Result struct {
	Target        string           `json:"target"`
	Conns         int              `json:"conns"`
	TotalAttempts int64            `json:"total_attempts"`
	SuccessConns  int64            `json:"success_conns"`
	FailedConns   int64            `json:"failed_conns"`
	SuccessRate   float64          `json:"success_rate_percent"`
	FinalConns    int64            `json:"final_conns"`
	ReadyLatency  LatencyStats     `json:"ready_latency_ms"`
	PongLatency   LatencyStats     `json:"pong_latency_ms"`
	PingsSent     int64            `json:"pings_sent"`
	PongsReceived int64            `json:"pongs_received"`
	PongRate      float64          `json:"pong_rate_percent"`
	Expiring      int64            `json:"session_expiring"`
	RefreshSent   int64            `json:"refresh_sent"`
	Refreshed     int64            `json:"session_refreshed"`
	ErrorFrames   int64            `json:"error_frames"`
	DomainEvents  int64            `json:"domain_events"`
	CloseCodes    map[string]int64 `json:"close_codes"`
	Errors        map[string]int64 `json:"errors"`
	ActualTime    float64          `json:"actual_time_seconds"`
}

// LatencyStats 延迟统计
type LatencyStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P99    float64 `json:"p99"`
	StdDev float64 `json:"std_dev"`
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type clientMessage struct {
	Op    string `json:"op"`
	Token string `json:"token,omitempty"`
}

// Conn 一条压测连接；写操作由 mu 串行化
type Conn struct {
	id     int
	userID uint64
	ws     *websocket.Conn

	mu       sync.Mutex
	pingSent time.Time
}

func (c *Conn) write(msg clientMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteJSON(msg)
}

func main() {
	cfg := parseFlags()
	if cfg.Secret == "" {
		fmt.Fprintln(os.Stderr, "必须指定 -secret")
		os.Exit(2)
	}

	fmt.Println("=== wsbench - 网关压测工具 ===")
	fmt.Printf("目标: %s\n", cfg.Target)
	fmt.Printf("连接数: %d（用户数 %d）\n", cfg.Conns, cfg.Users)
	fmt.Printf("持续时间: %s，爬坡: %s\n", cfg.Duration, cfg.Ramp)
	fmt.Printf("令牌有效期: %s，自动续期: %v\n\n", cfg.TokenTTL, cfg.Refresh)

	stats := &Stats{
		CloseCodes: make(map[int]int64),
		Errors:     make(map[string]int64),
		StartTime:  time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n收到中断信号，正在关闭...")
		cancel()
	}()

	tokens := jwt.NewManager(cfg.Secret, jwt.WithIssuer(cfg.Issuer))
	runBench(ctx, cfg, tokens, stats)
	stats.EndTime = time.Now()

	result := generateResult(cfg, stats)
	if cfg.Output == "json" {
		outputJSON(result)
	} else {
		outputText(result)
	}
}

func parseFlags() Config {
	cfg := Config{}
	var userBase uint

	flag.StringVar(&cfg.Target, "target", "ws://localhost:8084/ws", "WebSocket URL")
	flag.IntVar(&cfg.Conns, "conns", 1000, "总连接数")
	flag.DurationVar(&cfg.Duration, "duration", 5*time.Minute, "压测持续时间")
	flag.DurationVar(&cfg.Ramp, "ramp", time.Minute, "爬坡时间")
	flag.DurationVar(&cfg.PingInterval, "ping-interval", 30*time.Second, "ping 间隔")
	flag.StringVar(&cfg.Secret, "secret", os.Getenv("GATEWAY_JWT_SECRET"), "JWT 密钥")
	flag.StringVar(&cfg.Issuer, "issuer", "", "JWT issuer")
	flag.DurationVar(&cfg.TokenTTL, "token-ttl", time.Hour, "令牌有效期")
	flag.BoolVar(&cfg.Refresh, "refresh", true, "收到 session.expiring 时续期")
	flag.UintVar(&userBase, "user-base", 100000, "起始用户ID")
	flag.IntVar(&cfg.Users, "users", 0, "不同用户数，默认等于连接数")
	flag.StringVar(&cfg.ClientType, "client-type", "bot", "client_type 查询参数")
	flag.StringVar(&cfg.Output, "output", "text", "输出格式: text, json")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "详细输出")
	flag.Parse()

	cfg.UserBase = uint64(userBase)
	if cfg.Users <= 0 || cfg.Users > cfg.Conns {
		cfg.Users = cfg.Conns
	}
	return cfg
}

func runBench(ctx context.Context, cfg Config, tokens jwt.Manager, stats *Stats) {
	perSecond := float64(cfg.Conns) / cfg.Ramp.Seconds()
	if perSecond < 1 {
		perSecond = 1
	}
	fmt.Printf("爬坡速率: %.1f 连接/秒\n\n", perSecond)

	bar := progressbar.NewOptions(cfg.Conns,
		progressbar.OptionSetDescription("建立连接"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("conn"),
	)

	var wg sync.WaitGroup
	ticker := time.NewTicker(time.Duration(float64(time.Second) / perSecond))
	defer ticker.Stop()

	report := time.NewTicker(10 * time.Second)
	defer report.Stop()

	for id := 0; id < cfg.Conns; {
		select {
		case <-ctx.Done():
			id = cfg.Conns
		case <-report.C:
			printProgress(stats)
		case <-ticker.C:
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				c := dial(ctx, id, cfg, tokens, stats)
				_ = bar.Add(1)
				if c != nil {
					runConnection(ctx, c, cfg, tokens, stats)
				}
			}(id)
			id++
		}
	}
	_ = bar.Finish()
	fmt.Println()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			return
		case <-report.C:
			printProgress(stats)
		}
	}
}

// dial 握手并等待 ready；握手成功但被 4001 关闭也算失败
func dial(ctx context.Context, id int, cfg Config, tokens jwt.Manager, stats *Stats) *Conn {
	atomic.AddInt64(&stats.TotalAttempts, 1)

	userID := cfg.UserBase + uint64(id%cfg.Users)
	tok, err := tokens.Generate(userID, cfg.TokenTTL)
	if err != nil {
		atomic.AddInt64(&stats.FailedConns, 1)
		stats.addError("token: " + err.Error())
		return nil
	}

	u, err := url.Parse(cfg.Target)
	if err != nil {
		atomic.AddInt64(&stats.FailedConns, 1)
		stats.addError(err.Error())
		return nil
	}
	q := u.Query()
	q.Set("token", tok)
	q.Set("client_type", cfg.ClientType)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	start := time.Now()
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		atomic.AddInt64(&stats.FailedConns, 1)
		stats.addError(err.Error())
		if cfg.Verbose {
			fmt.Printf("连接 %d 失败: %v\n", id, err)
		}
		return nil
	}

	_ = ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	var f frame
	if err := ws.ReadJSON(&f); err != nil || f.Event != "ready" {
		atomic.AddInt64(&stats.FailedConns, 1)
		recordClose(stats, err)
		if err == nil {
			stats.addError("first frame: " + f.Event)
		}
		_ = ws.Close()
		return nil
	}

	stats.mu.Lock()
	stats.ReadyLatencies = append(stats.ReadyLatencies, time.Since(start).Nanoseconds())
	stats.mu.Unlock()
	atomic.AddInt64(&stats.SuccessConns, 1)

	return &Conn{id: id, userID: userID, ws: ws}
}

func runConnection(ctx context.Context, c *Conn, cfg Config, tokens jwt.Manager, stats *Stats) {
	atomic.AddInt64(&stats.CurrentConns, 1)
	defer atomic.AddInt64(&stats.CurrentConns, -1)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		readLoop(c, cfg, tokens, stats)
	}()

	ping := time.NewTicker(cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.mu.Unlock()
			_ = c.ws.Close()
			<-readDone
			return
		case <-readDone:
			_ = c.ws.Close()
			return
		case <-ping.C:
			c.mu.Lock()
			c.pingSent = time.Now()
			c.mu.Unlock()
			if err := c.write(clientMessage{Op: "ping"}); err != nil {
				stats.addError("ping_failed")
				continue
			}
			atomic.AddInt64(&stats.PingsSent, 1)
		}
	}
}

func readLoop(c *Conn, cfg Config, tokens jwt.Manager, stats *Stats) {
	for {
		// 服务端每 30s 发一次 ping 控制帧，读超时放宽到 90s
		_ = c.ws.SetReadDeadline(time.Now().Add(90 * time.Second))
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			recordClose(stats, err)
			return
		}

		switch f.Event {
		case "pong":
			atomic.AddInt64(&stats.PongsReceived, 1)
			c.mu.Lock()
			sent := c.pingSent
			c.mu.Unlock()
			if !sent.IsZero() {
				stats.mu.Lock()
				stats.PongLatencies = append(stats.PongLatencies, time.Since(sent).Nanoseconds())
				stats.mu.Unlock()
			}
		case "session.expiring":
			atomic.AddInt64(&stats.Expiring, 1)
			if !cfg.Refresh {
				continue
			}
			tok, err := tokens.Generate(c.userID, cfg.TokenTTL)
			if err != nil {
				stats.addError("token: " + err.Error())
				continue
			}
			if err := c.write(clientMessage{Op: "refresh", Token: tok}); err == nil {
				atomic.AddInt64(&stats.RefreshSent, 1)
			}
		case "session.refreshed":
			atomic.AddInt64(&stats.Refreshed, 1)
		case "error":
			atomic.AddInt64(&stats.ErrorFrames, 1)
			if cfg.Verbose {
				fmt.Printf("连接 %d 收到错误: %s\n", c.id, f.Data)
			}
		default:
			atomic.AddInt64(&stats.DomainEvents, 1)
		}
	}
}

func recordClose(stats *Stats, err error) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		stats.mu.Lock()
		stats.CloseCodes[ce.Code]++
		stats.mu.Unlock()
		return
	}
	if err != nil {
		stats.addError(err.Error())
	}
}

func printProgress(stats *Stats) {
	fmt.Printf("[%s] 当前连接: %d | 成功: %d | 失败: %d | Ping/Pong: %d/%d | 预警/续期: %d/%d | 事件: %d\n",
		time.Since(stats.StartTime).Round(time.Second),
		atomic.LoadInt64(&stats.CurrentConns),
		atomic.LoadInt64(&stats.SuccessConns),
		atomic.LoadInt64(&stats.FailedConns),
		atomic.LoadInt64(&stats.PingsSent),
		atomic.LoadInt64(&stats.PongsReceived),
		atomic.LoadInt64(&stats.Expiring),
		atomic.LoadInt64(&stats.Refreshed),
		atomic.LoadInt64(&stats.DomainEvents),
	)
}

func generateResult(cfg Config, stats *Stats) Result {
	stats.mu.Lock()
	defer stats.mu.Unlock()

	result := Result{
		Target:        cfg.Target,
		Conns:         cfg.Conns,
		TotalAttempts: stats.TotalAttempts,
		SuccessConns:  stats.SuccessConns,
		FailedConns:   stats.FailedConns,
		FinalConns:    stats.CurrentConns,
		ReadyLatency:  calculateLatencyStats(stats.ReadyLatencies),
		PongLatency:   calculateLatencyStats(stats.PongLatencies),
		PingsSent:     stats.PingsSent,
		PongsReceived: stats.PongsReceived,
		Expiring:      stats.Expiring,
		RefreshSent:   stats.RefreshSent,
		Refreshed:     stats.Refreshed,
		ErrorFrames:   stats.ErrorFrames,
		DomainEvents:  stats.DomainEvents,
		CloseCodes:    make(map[string]int64, len(stats.CloseCodes)),
		Errors:        stats.Errors,
		ActualTime:    stats.EndTime.Sub(stats.StartTime).Seconds(),
	}
	for code, n := range stats.CloseCodes {
		result.CloseCodes[strconv.Itoa(code)] = n
	}
	if stats.TotalAttempts > 0 {
		result.SuccessRate = float64(stats.SuccessConns) / float64(stats.TotalAttempts) * 100
	}
	if stats.PingsSent > 0 {
		result.PongRate = float64(stats.PongsReceived) / float64(stats.PingsSent) * 100
	}
	return result
}

func calculateLatencyStats(latencies []int64) LatencyStats {
	if len(latencies) == 0 {
		return LatencyStats{}
	}

	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	toMs := func(ns float64) float64 { return ns / 1e6 }

	var sum float64
	for _, v := range sorted {
		sum += float64(v)
	}
	avg := sum / float64(len(sorted))

	var variance float64
	for _, v := range sorted {
		diff := float64(v) - avg
		variance += diff * diff
	}
	variance /= float64(len(sorted))

	at := func(p int) float64 { return toMs(float64(sorted[len(sorted)*p/100])) }
	return LatencyStats{
		Min:    toMs(float64(sorted[0])),
		Max:    toMs(float64(sorted[len(sorted)-1])),
		Avg:    toMs(avg),
		P50:    at(50),
		P90:    at(90),
		P99:    at(99),
		StdDev: toMs(math.Sqrt(variance)),
	}
}

func outputJSON(result Result) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "JSON 编码错误: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func outputText(r Result) {
	fmt.Println()
	fmt.Println("==================== 压测结果 ====================")
	fmt.Printf("尝试/成功/失败:   %d / %d / %d (%.2f%%)\n", r.TotalAttempts, r.SuccessConns, r.FailedConns, r.SuccessRate)
	fmt.Printf("最终连接数:       %d\n", r.FinalConns)
	fmt.Println()
	printLatency("握手到 ready (ms)", r.ReadyLatency)
	printLatency("ping 到 pong (ms)", r.PongLatency)
	fmt.Printf("Ping/Pong:        %d / %d (%.2f%%)\n", r.PingsSent, r.PongsReceived, r.PongRate)
	fmt.Printf("预警/续期/成功:   %d / %d / %d\n", r.Expiring, r.RefreshSent, r.Refreshed)
	fmt.Printf("错误帧:           %d\n", r.ErrorFrames)
	fmt.Printf("领域事件:         %d\n", r.DomainEvents)

	if len(r.CloseCodes) > 0 {
		fmt.Println("\n--- 关闭码 ---")
		for code, n := range r.CloseCodes {
			fmt.Printf("%s: %d\n", code, n)
		}
	}
	if len(r.Errors) > 0 {
		fmt.Println("\n--- 错误统计 ---")
		for err, n := range r.Errors {
			fmt.Printf("%s: %d\n", err, n)
		}
	}
	fmt.Printf("\n--- 运行时间: %.2f 秒 ---\n", r.ActualTime)
	fmt.Println("=================================================")
}

func printLatency(title string, l LatencyStats) {
	fmt.Printf("--- %s ---\n", title)
	fmt.Printf("Min %.2f | Avg %.2f | P50 %.2f | P90 %.2f | P99 %.2f | Max %.2f | StdDev %.2f\n\n",
		l.Min, l.Avg, l.P50, l.P90, l.P99, l.Max, l.StdDev)
}
