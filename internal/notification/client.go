package notification

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// closeCodeConnectionDenied は認可に失敗した接続を閉じる際のクローズコード。
	closeCodeConnectionDenied = 4000

	// writeWait はフレーム書き込みの最大待ち時間。
	writeWait = 10 * time.Second
	// pongWait はPongフレームを待つ最大時間。超過した接続は切断とみなす。
	pongWait = 60 * time.Second
	// pingPeriod はPingフレームの送信間隔。pongWaitより短くする必要がある。
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize はクライアントからの受信フレームの最大サイズ。
	maxMessageSize = 512
	// sendBufferSize はクライアントごとの送信バッファ長。
	// 満杯になった接続は詰まっているとみなしレジストリから取り除かれる。
	sendBufferSize = 32
)

// pushKind はクライアントへ配送するメッセージの種類を表すタグ。
type pushKind int

const (
	// pushNotification はユーザー個別チャンネル向けの通知配送を表す。
	pushNotification pushKind = iota + 1
	// pushBroadcastEvent は全体チャンネル向けのイベント配送を表す。
	pushBroadcastEvent
)

// pushMessage はハブからクライアントへ渡されるファンアウト指示。
// kindタグに応じてクライアント側で送信フレームの形へ整形される。
type pushMessage struct {
	// kind は配送の種類。
	kind pushKind
	// blogID は通知対象のブログID（pushNotificationのみ）。
	blogID string
	// text は生成済みの通知文（pushNotificationのみ）。
	text string
	// eventType は通知種別（pushNotificationのみ）。
	eventType EventType
	// body は全体イベントのメッセージ本文（pushBroadcastEventのみ）。
	body string
}

// notificationFrame はユーザー個別チャンネルの送信フレーム。
type notificationFrame struct {
	// BlogID は通知対象のブログID。
	BlogID string `json:"blog_id"`
	// Message は生成済みの通知文。
	Message string `json:"message"`
	// Type は通知種別。
	Type string `json:"type"`
}

// broadcastFrame は全体チャンネルの送信フレーム。
type broadcastFrame struct {
	// Message は挨拶付きに整形されたメッセージ。
	Message string `json:"message"`
}

// client は1本のWebSocket接続のライフサイクルを管理する。
// 接続ハンドルはこの構造体が所有し、ハブは参照のみを保持する。
type client struct {
	// conn はWebSocket接続ハンドル。
	conn *websocket.Conn
	// hub は登録先のレジストリ。
	hub *hub
	// channelKey は登録中のチャンネルキー。
	channelKey string
	// firstName は認証済みユーザーの名。全体チャンネルの挨拶に使用する。
	firstName string
	// send はファンアウト指示を受け取るバッファ付きチャンネル。
	send chan pushMessage
	// done はteardown完了を書き込みループへ伝えるチャンネル。
	done chan struct{}
	// once はteardownの多重実行を防ぐ。
	once sync.Once
}

// newClient は認可済みの接続からクライアントを生成する。レジストリには登録しない。
func newClient(conn *websocket.Conn, h *hub, channelKey, firstName string) *client {
	return &client{
		conn:       conn,
		hub:        h,
		channelKey: channelKey,
		firstName:  firstName,
		send:       make(chan pushMessage, sendBufferSize),
		done:       make(chan struct{}),
	}
}

// run はレジストリへ登録し読み書きループを開始する。
// 読み込みループは呼び出し元のゴルーチンで実行され、切断まで戻らない。
func (c *client) run() {
	c.hub.register(c.channelKey, c)
	go c.writePump()
	c.readPump()
}

// close は接続のteardownを一度だけ実行する。
// レジストリからの解除、書き込みループへの通知、接続ハンドルの解放を行う。
// 切断シグナルが複数届いても冪等に動作する。
func (c *client) close() {
	c.once.Do(func() {
		c.hub.unregister(c.channelKey, c)
		close(c.done)
		if c.conn == nil {
			return
		}
		if err := c.conn.Close(); err != nil {
			log.Printf("[WS] 接続クローズに失敗: %v", err)
		}
	})
}

// readPump はクライアントからの受信を監視し、切断を検知する。
// このサービスはクライアントからのメッセージを処理しないため、
// 受信フレームは読み捨てる。
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] 接続が異常終了しました: channel=%s, err=%v", c.channelKey, err)
			}
			return
		}
	}
}

// writePump はファンアウト指示をフレームへ整形して接続に書き込む。
// 定期的にPingを送信し、書き込み失敗時はteardownを起動する。
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			frame, err := c.renderFrame(msg)
			if err != nil {
				log.Printf("[WS] フレームの整形に失敗: %v", err)
				continue
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// renderFrame はファンアウト指示をkindタグで振り分け、送信フレームのJSONへ整形する。
func (c *client) renderFrame(msg pushMessage) ([]byte, error) {
	switch msg.kind {
	case pushNotification:
		return json.Marshal(notificationFrame{
			BlogID:  msg.blogID,
			Message: msg.text,
			Type:    string(msg.eventType),
		})
	case pushBroadcastEvent:
		body := capitalize(strings.TrimSuffix(msg.body, "."))
		return json.Marshal(broadcastFrame{
			Message: fmt.Sprintf("Hey %s. %s.", c.firstName, body),
		})
	default:
		return nil, fmt.Errorf("未定義の配送種別です: %d", msg.kind)
	}
}
