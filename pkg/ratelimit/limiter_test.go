package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/nao1215/authgate/pkg/store"
)

// TestLimiterAllow は固定ウィンドウのレート制限判定を検証する。
func TestLimiterAllow(t *testing.T) {
	t.Parallel()

	t.Run("上限N回目までは許可されN+1回目が拒否されること", func(t *testing.T) {
		t.Parallel()

		m := store.NewMemory()
		limiter := New(m, 5, time.Minute)
		ctx := context.Background()

		for i := 1; i <= 5; i++ {
			allowed, err := limiter.Allow(ctx, "client-a")
			if err != nil {
				t.Fatalf("Allow()でエラーが発生: %v", err)
			}
			if !allowed {
				t.Fatalf("%d回目のリクエストが拒否された", i)
			}
		}

		allowed, err := limiter.Allow(ctx, "client-a")
		if err != nil {
			t.Fatalf("Allow()でエラーが発生: %v", err)
		}
		if allowed {
			t.Error("上限超過のリクエストが許可された")
		}
	})

	t.Run("ウィンドウ経過後は新しいリクエストが許可されること", func(t *testing.T) {
		t.Parallel()

		m := store.NewMemory()
		base := time.Now()
		m.SetNowFunc(func() time.Time { return base })

		limiter := New(m, 2, time.Minute)
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			if _, err := limiter.Allow(ctx, "client-b"); err != nil {
				t.Fatalf("Allow()でエラーが発生: %v", err)
			}
		}
		allowed, err := limiter.Allow(ctx, "client-b")
		if err != nil {
			t.Fatalf("Allow()でエラーが発生: %v", err)
		}
		if allowed {
			t.Fatal("上限超過のリクエストが許可された")
		}

		// ウィンドウ満了後はカウンターがリセットされる
		m.SetNowFunc(func() time.Time { return base.Add(time.Minute + time.Second) })
		allowed, err = limiter.Allow(ctx, "client-b")
		if err != nil {
			t.Fatalf("Allow()でエラーが発生: %v", err)
		}
		if !allowed {
			t.Error("ウィンドウ満了後のリクエストが拒否された")
		}
	})

	t.Run("クライアントごとに独立したカウンターを持つこと", func(t *testing.T) {
		t.Parallel()

		m := store.NewMemory()
		limiter := New(m, 1, time.Minute)
		ctx := context.Background()

		if _, err := limiter.Allow(ctx, "client-c"); err != nil {
			t.Fatalf("Allow()でエラーが発生: %v", err)
		}
		allowed, err := limiter.Allow(ctx, "client-c")
		if err != nil {
			t.Fatalf("Allow()でエラーが発生: %v", err)
		}
		if allowed {
			t.Error("client-cの上限超過リクエストが許可された")
		}

		allowed, err = limiter.Allow(ctx, "client-d")
		if err != nil {
			t.Fatalf("Allow()でエラーが発生: %v", err)
		}
		if !allowed {
			t.Error("別クライアントの初回リクエストが拒否された")
		}
	})

	t.Run("設定が0以下の場合デフォルト値が適用されること", func(t *testing.T) {
		t.Parallel()

		limiter := New(store.NewMemory(), 0, 0)
		if limiter.maxRequests != DefaultMaxRequests {
			t.Errorf("maxRequests = %d, want %d", limiter.maxRequests, DefaultMaxRequests)
		}
		if limiter.window != DefaultWindow {
			t.Errorf("window = %v, want %v", limiter.window, DefaultWindow)
		}
	})
}
