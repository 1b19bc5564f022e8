package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bloghub/notification/pkg/httpclient"
)

// authTimeout は認可呼び出しの最大待ち時間。
// 認可は接続受け入れのクリティカルパス上にあるため、タイムアウトは拒否として扱う。
const authTimeout = 5 * time.Second

// errTokenRequired は認証トークンが提示されなかったことを表す。
var errTokenRequired = errors.New("認証トークンがありません")

// identity は認証済みユーザーの情報。
type identity struct {
	// UserID はユーザーの一意識別子。
	UserID string `json:"user_id"`
	// FirstName はユーザーの名。
	FirstName string `json:"first_name"`
	// LastName はユーザーの姓。
	LastName string `json:"last_name"`
}

// displayName は通知文の整形に使う表示名（名 + 姓）を返す。
func (i *identity) displayName() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", i.FirstName, i.LastName))
}

// verifyTokenRequest はIDサービスへのトークン検証リクエストのJSON構造。
type verifyTokenRequest struct {
	// Token は検証対象の認証トークン。
	Token string `json:"token"`
}

// authGate は接続受け入れ前の認可を外部IDサービスへ問い合わせるゲート。
// レジストリへの登録は、このゲートが肯定的な結果を返すまで行ってはならない。
type authGate struct {
	// identityClient はIDサービスへの通信クライアント。
	identityClient *httpclient.Client
}

// newAuthGate はIDサービスのクライアントから認可ゲートを生成する。
func newAuthGate(identityClient *httpclient.Client) *authGate {
	return &authGate{identityClient: identityClient}
}

// authenticate はトークンを外部IDサービスで検証し、認証済みユーザー情報を返す。
// 検証失敗・通信エラー・タイムアウトはすべて拒否として扱う。
func (g *authGate) authenticate(ctx context.Context, token string) (*identity, error) {
	if token == "" {
		return nil, errTokenRequired
	}

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	var ident identity
	if err := g.identityClient.PostJSON(ctx, "/api/v1/auth/verify", verifyTokenRequest{Token: token}, &ident); err != nil {
		return nil, fmt.Errorf("トークン検証に失敗: %w", err)
	}
	if ident.UserID == "" {
		return nil, errors.New("IDサービスがユーザーIDを返しませんでした")
	}
	return &ident, nil
}
