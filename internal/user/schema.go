package user

import (
	"database/sql"
	"fmt"
)

// ユーザーテーブルのスキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS users (
    -- ユーザーの一意識別子
    user_id TEXT PRIMARY KEY,
    -- ユーザー名（ログインIDとして使用する）
    username TEXT NOT NULL UNIQUE,
    -- bcryptでハッシュ化したパスワード
    password_hash TEXT NOT NULL,
    -- メールアドレス
    email TEXT NOT NULL UNIQUE,
    -- 電話番号
    phone TEXT NOT NULL DEFAULT '',
    -- 付与するロール（ADMIN, USER等）
    role TEXT NOT NULL DEFAULT 'USER',
    -- 登録日時
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
