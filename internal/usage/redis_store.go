package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/redis/go-redis/v9"
)

// counterTTL は期間終了後もしばらく参照できるよう暦月より長めに保持する。
const counterTTL = 40 * 24 * time.Hour

// RedisCounterStore はRedisを使用したCounterStore。
// キーは usage:<userID>:<limitType>:<yyyymm> 形式。
type RedisCounterStore struct {
	client redis.UniversalClient
}

// NewRedisCounterStore はRedisCounterStoreを生成する。
func NewRedisCounterStore(client redis.UniversalClient) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// NewRedisCounterStoreFromURL はredis:// URLからクライアントを生成する。
func NewRedisCounterStoreFromURL(url string) (*RedisCounterStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLの解析に失敗しました: %w", err)
	}
	return NewRedisCounterStore(redis.NewClient(opts)), nil
}

// Close はRedis接続を閉じる。
func (s *RedisCounterStore) Close() error {
	return s.client.Close()
}

// Ping はRedisへの疎通を確認する。
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func counterKey(userID string, limitType model.LimitType, window time.Time) string {
	return fmt.Sprintf("usage:%s:%s:%s", userID, limitType, window.UTC().Format("200601"))
}

// Get は期間内の利用回数を返す。
func (s *RedisCounterStore) Get(ctx context.Context, userID string, limitType model.LimitType, window time.Time) (int, error) {
	n, err := s.client.Get(ctx, counterKey(userID, limitType, window)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("利用回数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// Increment は利用回数を1増やし、増加後の値を返す。
// INCRとEXPIREはパイプラインで送信し、キーが残り続けないようにする。
func (s *RedisCounterStore) Increment(ctx context.Context, userID string, limitType model.LimitType, window time.Time) (int, error) {
	key := counterKey(userID, limitType, window)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("利用回数の更新に失敗しました: %w", err)
	}
	return int(incr.Val()), nil
}

// compile-time interface check
var _ CounterStore = (*RedisCounterStore)(nil)
