package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithTTLScript はカウンターのインクリメントと新規作成時のTTL設定を
// 単一の原子的操作として実行するLuaスクリプト。
// インクリメントとTTL設定が別操作だと、間でプロセスが落ちた場合に
// TTLの無いカウンターが残り、ウィンドウが永久に満了しなくなる。
var incrWithTTLScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// expireIfNoTTLScript はTTLが未設定のキーにのみTTLを設定するLuaスクリプト。
var expireIfNoTTLScript = redis.NewScript(`
if redis.call("PTTL", KEYS[1]) == -1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return 1
`)

// Redis はRedisを背後に持つStore実装。
// 並行安全性はRedisとgo-redisクライアントに委譲する。
type Redis struct {
	// client はgo-redisのクライアント。
	client *redis.Client
}

// Redis がStoreインターフェースを満たすことの静的検査。
var _ Store = (*Redis)(nil)

// NewRedis は指定アドレスのRedisに接続するStoreを生成する。
// 接続確認（PING）に失敗した場合はエラーを返す。
func NewRedis(addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return &Redis{client: client}, nil
}

// Put は値をTTL付きで保存する。
func (r *Redis) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("値の保存に失敗: %w", err)
	}
	return nil
}

// Get はキーに対応する値を返す。
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("値の取得に失敗: %w", err)
	}
	return value, nil
}

// Delete はキーを削除する。存在しないキーの削除もエラーにならない。
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("キーの削除に失敗: %w", err)
	}
	return nil
}

// Increment はカウンターを1増やす。
func (r *Redis) Increment(ctx context.Context, key string) (int64, error) {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("カウンターの増加に失敗: %w", err)
	}
	return count, nil
}

// IncrementWithTTL はカウンターを1増やし、新規作成時のみTTLを設定する。
func (r *Redis) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrWithTTLScript.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("カウンターの増加に失敗: %w", err)
	}
	return count, nil
}

// ExpireIfNoTTL はTTLが未設定のキーにのみTTLを設定する。
func (r *Redis) ExpireIfNoTTL(ctx context.Context, key string, ttl time.Duration) error {
	if err := expireIfNoTTLScript.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("TTLの設定に失敗: %w", err)
	}
	return nil
}

// Close はRedisへの接続を閉じる。
func (r *Redis) Close() error {
	return r.client.Close()
}
