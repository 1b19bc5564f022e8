// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 通知サービスが外部コラボレーターのAPIを呼び出す際に使用する。
// IDサービスへのトークン検証・ユーザー解決、ブログサービスへの参照確認、
// Event Storeへのイベント送信など、サービス間の通信パターンを統一する。
package httpclient
