// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として
// 機能する。すべての受信リクエストは順序付きの入場パイプライン
// （IPフィルタ → レート制限 → 除外経路判定 → トークン存在確認 →
// トークン検証 → リフレッシュ回復 → ロール認可）を通過し、
// いずれかの段で失敗すると即座に終端レスポンスを返す。
// 通過したリクエストのみが内部サービスに転送される。
package gateway
