package auth

import (
	"database/sql"
	"fmt"
)

// RBACマッピングのスキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS p_api (
    -- API経路の一意識別子
    api_id TEXT PRIMARY KEY,
    -- API経路（完全一致で照合する）
    path TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS p_role (
    -- ロールの一意識別子
    role_id TEXT PRIMARY KEY,
    -- ロール名（ADMIN, USER等）
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS api_role_mapping (
    -- マッピングの一意識別子
    api_role_mapping_id TEXT PRIMARY KEY,
    -- 対象のAPI経路ID
    api_id TEXT NOT NULL,
    -- 許可するロールID
    role_id TEXT NOT NULL,
    UNIQUE (api_id, role_id),
    FOREIGN KEY (api_id) REFERENCES p_api(api_id) ON DELETE CASCADE,
    FOREIGN KEY (role_id) REFERENCES p_role(role_id) ON DELETE CASCADE
);

-- API経路IDでの許可ロール検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_api_role_mapping_api_id
    ON api_role_mapping(api_id);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
