// Package middleware は通知サービスのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、パニックリカバリ、フロントエンド向けの
// CORS設定を含む。WebSocket接続の認可はミドルウェアではなく
// 接続受け入れ時のゲートで行うため、ここには含まれない。
package middleware
