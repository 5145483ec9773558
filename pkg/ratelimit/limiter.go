package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/authgate/pkg/store"
)

// デフォルトのレート制限設定。
const (
	// DefaultMaxRequests はウィンドウあたりのデフォルト上限リクエスト数。
	DefaultMaxRequests = 60
	// DefaultWindow はデフォルトの計測ウィンドウ幅。
	DefaultWindow = time.Minute
)

// Limiter は共有ストア上の固定ウィンドウカウンターによるレート制限器。
type Limiter struct {
	// store はカウンターを保持する共有ストア。
	store store.Store
	// maxRequests はウィンドウあたりの上限リクエスト数。
	maxRequests int64
	// window は計測ウィンドウ幅。
	window time.Duration
}

// New は新しいレート制限器を生成する。
// maxRequestsが0以下の場合はDefaultMaxRequests、windowが0以下の場合は
// DefaultWindowが使用される。
func New(s store.Store, maxRequests int64, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{store: s, maxRequests: maxRequests, window: window}
}

// Allow はクライアントのカウンターを1増やし、上限以内かどうかを返す。
// カウンターが新規作成された場合、同じ操作の中でウィンドウTTLが設定される。
// ストア障害時はfalseとエラーを返す（呼び出し側が500に変換する）。
func (l *Limiter) Allow(ctx context.Context, clientID string) (bool, error) {
	count, err := l.store.IncrementWithTTL(ctx, store.RateLimitKey(clientID), l.window)
	if err != nil {
		return false, fmt.Errorf("レート制限カウンターの更新に失敗: %w", err)
	}
	return count <= l.maxRequests, nil
}
