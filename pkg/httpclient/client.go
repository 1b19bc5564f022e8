package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultTimeout はコラボレーターへのHTTPリクエスト全体の最大待ち時間。
// 個別の呼び出しでより短い期限が必要な場合はコンテキストで指定する。
const defaultTimeout = 30 * time.Second

// maxErrorBodySize はエラーレスポンスのボディをログ用に読み取る上限。
const maxErrorBodySize = 4 << 10

// Client は通知サービスからコラボレーター（IDサービス・ブログサービス・
// Event Store）への通信を行うHTTPクライアント。
type Client struct {
	// baseURL は接続先サービスのベースURL。
	baseURL string
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
}

// New は指定したベースURL（例: "http://identity:8087"）への
// 通信クライアントを生成する。
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// GetJSON は指定パスのリソースを取得し、レスポンスボディをresultへデシリアライズする。
// ユーザー・ブログ等の参照先IDの解決に使用する。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// resultがnilでない場合、レスポンスボディをデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	return c.do(req, result)
}

// newRequest はコラボレーター向けのHTTPリクエストを組み立てる。
// コンテキストにユーザーIDが設定されている場合はヘッダーで伝播する。
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if userID, ok := ctx.Value(contextKeyUserID).(string); ok {
		req.Header.Set("X-User-ID", userID)
	}
	return req, nil
}

// do はリクエストを実行し、2xx以外のステータスをエラーとして扱う。
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("HTTPエラー: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyUserID はコンテキストにユーザーIDを格納するためのキー。
const contextKeyUserID contextKey = "user_id"

// WithUserID はコンテキストにユーザーIDを設定する。
// コラボレーターへのリクエストでユーザーIDを伝播するために使用する。
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}
