package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// memoryEntry はメモリストアの1エントリ。
type memoryEntry struct {
	// value は保存された値。
	value string
	// expiresAt は失効時刻。ゼロ値はTTL未設定を表す。
	expiresAt time.Time
}

// Memory はプロセス内メモリを背後に持つStore実装。
// テストおよび単一ノード構成向け。複数レプリカ間では状態を共有しない。
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	// now は現在時刻の取得関数。テストで差し替える。
	now func() time.Time
}

// Memory がStoreインターフェースを満たすことの静的検査。
var _ Store = (*Memory)(nil)

// NewMemory は新しいメモリストアを生成する。
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// get は失効済みエントリを削除しつつエントリを取得する。
// 呼び出し側がmuを保持していること。
func (m *Memory) get(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// Put は値をTTL付きで保存する。
func (m *Memory) Put(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// ttlゼロ以下はRedisのSETと同様にTTL未設定として扱う
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Get はキーに対応する値を返す。
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.get(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Delete はキーを削除する。存在しないキーの削除もエラーにならない。
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Increment はカウンターを1増やす。
func (m *Memory) Increment(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.increment(key, 0), nil
}

// IncrementWithTTL はカウンターを1増やし、新規作成時のみTTLを設定する。
func (m *Memory) IncrementWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.increment(key, ttl), nil
}

// increment はカウンターの増加処理の本体。
// ttlが正の場合、キー新規作成時にTTLを設定する。
// 呼び出し側がmuを保持していること。
func (m *Memory) increment(key string, ttl time.Duration) int64 {
	e, ok := m.get(key)
	count := int64(0)
	if ok {
		count, _ = strconv.ParseInt(e.value, 10, 64)
	}
	count++

	next := memoryEntry{value: strconv.FormatInt(count, 10), expiresAt: e.expiresAt}
	if !ok && ttl > 0 {
		next.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = next
	return count
}

// ExpireIfNoTTL はTTLが未設定のキーにのみTTLを設定する。
func (m *Memory) ExpireIfNoTTL(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.get(key)
	if !ok || !e.expiresAt.IsZero() {
		return nil
	}
	e.expiresAt = m.now().Add(ttl)
	m.entries[key] = e
	return nil
}

// Close は何もしない。Storeインターフェースを満たすための実装。
func (m *Memory) Close() error {
	return nil
}

// SetNowFunc は現在時刻の取得関数を差し替える。テスト専用。
func (m *Memory) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
