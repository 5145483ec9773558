package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrAPINotFound は指定されたAPI経路が登録されていない場合のエラー。
// 未登録の経路は「許可ロールなし」ではなく「存在しない」として扱い、
// 暗黙に許可されることはない。
var ErrAPINotFound = errors.New("API経路が登録されていません")

// RBAC はAPI経路→許可ロールの対応を解決する。
// 照合は完全一致のみで、前方一致やグロブは行わない
// （公開経路の前方一致除外はゲートウェイ側の別機構）。
type RBAC struct {
	// db はマッピングを保持するSQLiteデータベース接続。
	db *sql.DB
}

// NewRBAC は新しいRBACリゾルバを生成する。
func NewRBAC(db *sql.DB) *RBAC {
	return &RBAC{db: db}
}

// RolesFor は指定API経路に許可されたロール名の一覧を返す。
// 経路が未登録の場合はErrAPINotFound。登録済みでもバインディングが
// 無い場合は空のスライスを返す。
func (r *RBAC) RolesFor(ctx context.Context, apiPath string) ([]string, error) {
	var apiID string
	err := r.db.QueryRowContext(ctx, `SELECT api_id FROM p_api WHERE path = ?`, apiPath).Scan(&apiID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPINotFound
	}
	if err != nil {
		return nil, fmt.Errorf("API経路の照合に失敗: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT r.name
		FROM api_role_mapping m
		JOIN p_role r ON r.role_id = m.role_id
		WHERE m.api_id = ?
		ORDER BY r.name`, apiID)
	if err != nil {
		return nil, fmt.Errorf("許可ロールの取得に失敗: %w", err)
	}
	defer rows.Close()

	roles := make([]string, 0, 4)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("許可ロールの読み取りに失敗: %w", err)
		}
		roles = append(roles, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("許可ロールの走査に失敗: %w", err)
	}
	return roles, nil
}

// RegisterAPI はAPI経路と許可ロールのバインディングを登録する。
// 既存の経路・ロール・バインディングがあっても冪等に動作する。
func (r *RBAC) RegisterAPI(ctx context.Context, apiPath string, roles ...string) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO p_api (api_id, path) VALUES (?, ?)`,
		uuid.New().String(), apiPath); err != nil {
		return fmt.Errorf("API経路の登録に失敗: %w", err)
	}

	var apiID string
	if err := r.db.QueryRowContext(ctx, `SELECT api_id FROM p_api WHERE path = ?`, apiPath).Scan(&apiID); err != nil {
		return fmt.Errorf("登録したAPI経路の取得に失敗: %w", err)
	}

	for _, role := range roles {
		if _, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO p_role (role_id, name) VALUES (?, ?)`,
			uuid.New().String(), role); err != nil {
			return fmt.Errorf("ロールの登録に失敗: %w", err)
		}

		var roleID string
		if err := r.db.QueryRowContext(ctx, `SELECT role_id FROM p_role WHERE name = ?`, role).Scan(&roleID); err != nil {
			return fmt.Errorf("登録したロールの取得に失敗: %w", err)
		}

		if _, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO api_role_mapping (api_role_mapping_id, api_id, role_id) VALUES (?, ?, ?)`,
			uuid.New().String(), apiID, roleID); err != nil {
			return fmt.Errorf("ロールバインディングの登録に失敗: %w", err)
		}
	}
	return nil
}
