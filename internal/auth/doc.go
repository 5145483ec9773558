// Package auth は認証サービスの内部実装を提供する。
//
// トークンのライフサイクル（発行・検証・再発行・失効）を管理する
// TokenServiceと、API経路→許可ロールの対応を解決するRBACを
// 1つのHTTPサーフェスとして公開する。トークンレコードは共有ストア
// （Redis）に、RBACマッピングはSQLiteに保持する。
// subjectが現在ログイン中かどうかの唯一の情報源となる。
package auth
