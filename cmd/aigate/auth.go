package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/aigate/api/handlers"
	"github.com/BaSui01/aigate/config"
	"github.com/BaSui01/aigate/internal/ctxkeys"
	"github.com/BaSui01/aigate/types"
)

// stringSet 精确匹配的字符串集合（路径、Origin）
type stringSet map[string]struct{}

func newStringSet(paths []string) stringSet {
	set := make(stringSet, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

func (s stringSet) has(path string) bool {
	_, ok := s[path]
	return ok
}

// =============================================================================
// 🔐 Auth
// =============================================================================

var (
	errMissingCredentials = errors.New("missing credentials")
	errInvalidToken       = errors.New("invalid or expired token")
	errInvalidAPIKey      = errors.New("invalid API key")
)

// authenticator 校验一次请求的凭证
type authenticator struct {
	secret    []byte
	parser    *jwt.Parser
	apiKeys   [][]byte
	anonymous bool
	logger    *zap.Logger
}

func newAuthenticator(cfg config.AuthConfig, logger *zap.Logger) *authenticator {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired()}
	if cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	a := &authenticator{
		secret:    []byte(cfg.JWTSecret),
		parser:    jwt.NewParser(opts...),
		anonymous: cfg.AllowAnonymous,
		logger:    logger,
	}
	for _, k := range cfg.APIKeys {
		if k != "" {
			a.apiKeys = append(a.apiKeys, []byte(k))
		}
	}
	return a
}

// authenticate 返回带调用者身份的 context。Bearer 优先于 X-API-Key，
// 显式给出的错误凭证即使允许匿名也会被拒绝。
func (a *authenticator) authenticate(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	if header := r.Header.Get("Authorization"); header != "" {
		sub, err := a.subject(header)
		if err != nil {
			return ctx, err
		}
		return ctxkeys.WithSubject(ctx, sub), nil
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		if !a.knownKey([]byte(key)) {
			return ctx, errInvalidAPIKey
		}
		return ctx, nil
	}
	if a.anonymous {
		return ctx, nil
	}
	return ctx, errMissingCredentials
}

func (a *authenticator) subject(header string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || len(a.secret) == 0 {
		return "", errInvalidToken
	}
	token, err := a.parser.Parse(raw, func(*jwt.Token) (any, error) { return a.secret, nil })
	if err != nil {
		a.logger.Debug("JWT rejected", zap.Error(err))
		return "", errInvalidToken
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errInvalidToken
	}
	return sub, nil
}

// knownKey 遍历全部密钥，耗时与匹配位置无关
func (a *authenticator) knownKey(key []byte) bool {
	match := 0
	for _, k := range a.apiKeys {
		match |= subtle.ConstantTimeCompare(k, key)
	}
	return match == 1
}

// Auth 认证中间件。JWT 的 sub 声明写入 context 作为调用用户，
// API Key 不携带用户身份。skipPaths 中的路径不需要认证。
func Auth(cfg config.AuthConfig, skipPaths []string, logger *zap.Logger) Middleware {
	skip := newStringSet(skipPaths)
	a := newAuthenticator(cfg, logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip.has(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			ctx, err := a.authenticate(r)
			if err != nil {
				handlers.WriteErrorMessage(w, r, types.ErrUnauthorized, err.Error(), logger)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// =============================================================================
// 🚦 RateLimiter
// =============================================================================

// visitorTTL 空闲超过该时长的令牌桶被回收
const visitorTTL = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitorLimits 每个调用方一个令牌桶
type visitorLimits struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

// reserve 尝试取一个令牌，失败时返回需要等待的时长
func (v *visitorLimits) reserve(key string, now time.Time) (bool, time.Duration) {
	v.mu.Lock()
	vis, ok := v.visitors[key]
	if !ok {
		vis = &visitor{limiter: rate.NewLimiter(v.rps, v.burst)}
		v.visitors[key] = vis
	}
	vis.lastSeen = now
	v.mu.Unlock()

	res := vis.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (v *visitorLimits) sweep(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, vis := range v.visitors {
		if now.Sub(vis.lastSeen) > visitorTTL {
			delete(v.visitors, key)
		}
	}
}

// RateLimiter 令牌桶限流。已认证用户按 JWT subject 计数，其余按客户端 IP。
// rps 为 0 时不限流。ctx 结束时停止回收空闲令牌桶。
func RateLimiter(ctx context.Context, rps float64, burst int, skipPaths []string, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	skip := newStringSet(skipPaths)
	limits := &visitorLimits{rps: rate.Limit(rps), burst: burst, visitors: make(map[string]*visitor)}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				limits.sweep(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip.has(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if ok, wait := limits.reserve(rateLimitKey(r), time.Now()); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				handlers.WriteErrorMessage(w, r, types.ErrRateLimited, "too many requests", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if sub, ok := ctxkeys.Subject(r.Context()); ok {
		return "user:" + sub
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}
