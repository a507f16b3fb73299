package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/utafrali/catalogindex/pkg/errors"
)

// Guard admits at most one rebuild per namespace at a time.
type Guard interface {
	// Acquire returns a release function, or an apperrors.Conflict error
	// when a rebuild of the namespace is already running.
	Acquire(ctx context.Context, namespace string) (func(), error)
}

func conflict(namespace string) error {
	return apperrors.Conflict(fmt.Sprintf("a rebuild of namespace %s is already running", namespace))
}

// LocalGuard serializes rebuilds inside one process.
type LocalGuard struct {
	mu      sync.Mutex
	running map[string]bool
}

// NewLocalGuard creates a process-local guard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{running: make(map[string]bool)}
}

func (g *LocalGuard) Acquire(_ context.Context, namespace string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running[namespace] {
		return nil, conflict(namespace)
	}
	g.running[namespace] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, namespace)
			g.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the lock TTL only while it still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisGuard serializes rebuilds across processes with a Redis lock.
// The lock expires after ttl so a crashed rebuild cannot block forever;
// while held it is extended every renewEvery.
type RedisGuard struct {
	client     redis.Cmdable
	prefix     string
	ttl        time.Duration
	renewEvery time.Duration
	logger     *slog.Logger
}

// RedisGuardOption configures a RedisGuard.
type RedisGuardOption func(*RedisGuard)

// WithRenewInterval sets how often a held lock is extended. The default is
// a third of the TTL.
func WithRenewInterval(d time.Duration) RedisGuardOption {
	return func(g *RedisGuard) { g.renewEvery = d }
}

// NewRedisGuard creates a guard storing locks under prefix.
func NewRedisGuard(client redis.Cmdable, prefix string, ttl time.Duration, l *slog.Logger, opts ...RedisGuardOption) *RedisGuard {
	g := &RedisGuard{client: client, prefix: prefix, ttl: ttl, renewEvery: ttl / 3, logger: l}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *RedisGuard) key(namespace string) string {
	return g.prefix + namespace
}

func (g *RedisGuard) Acquire(ctx context.Context, namespace string) (func(), error) {
	key := g.key(namespace)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire rebuild lock %s: %w", key, err)
	}
	if !ok {
		return nil, conflict(namespace)
	}

	// The lock outlives a canceled rebuild context until release runs.
	bg := context.WithoutCancel(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go g.keepAlive(bg, key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			rctx, cancel := context.WithTimeout(bg, 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, g.client, []string{key}, token).Err(); err != nil {
				g.logger.WarnContext(ctx, "failed to release rebuild lock",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		})
	}, nil
}

// keepAlive extends the lock until stop is closed or the lock is lost.
func (g *RedisGuard) keepAlive(ctx context.Context, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if g.renewEvery <= 0 {
		<-stop
		return
	}

	ticker := time.NewTicker(g.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, g.renewEvery)
			n, err := extendScript.Run(rctx, g.client, []string{key}, token, g.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				g.logger.WarnContext(ctx, "failed to extend rebuild lock",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				continue
			}
			if n == 0 {
				g.logger.ErrorContext(ctx, "rebuild lock was lost", slog.String("key", key))
				return
			}
		}
	}
}
