// Package token は署名付きクレーム内蔵トークンのエンコード/デコードを提供する。
//
// トークンはHS256で署名されたJWTであり、subject（ユーザー識別子）、
// role（ロール名）、category（access/refresh種別）、発行日時、有効期限を
// クレームとして持つ。デコード時には「形式不正」「署名不正」「期限切れ」を
// 区別したエラー種別を返すため、呼び出し側（ゲートウェイ）は期限切れのみを
// リフレッシュ再発行で回復できる。I/Oを持たない純粋なパッケージ。
package token
