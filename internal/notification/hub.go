package notification

import (
	"fmt"
	"log"
	"sync"
)

// channelKeyPrefix はユーザー個別通知チャンネルのキー接頭辞。
const channelKeyPrefix = "notification_channel_"

// broadcastChannelKey は全接続ユーザー向けイベント配信チャンネルのキー。
const broadcastChannelKey = "event_channel"

// notificationChannelKey は受信者IDからユーザー個別チャンネルのキーを組み立てる。
func notificationChannelKey(receiverID string) string {
	return fmt.Sprintf("%s%s", channelKeyPrefix, receiverID)
}

// hub はチャンネルキーと接続中クライアント集合の対応を保持するレジストリ。
// 接続ライフサイクル（登録・解除）と発行側（ブロードキャスト）の双方から
// 並行に呼び出されるため、すべての操作はミューテックスで直列化する。
// チャンネルは最初のクライアント登録時に暗黙的に作られ、永続化されない。
type hub struct {
	mu sync.RWMutex
	// channels はチャンネルキーからクライアント集合へのマップ。
	channels map[string]map[*client]struct{}
}

// newHub は空のレジストリを生成する。
func newHub() *hub {
	return &hub{
		channels: make(map[string]map[*client]struct{}),
	}
}

// register はクライアントを指定チャンネルに登録する。
// チャンネルが存在しない場合は作成する。二重登録しても状態は変わらない。
func (h *hub) register(channelKey string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.channels[channelKey]
	if !ok {
		clients = make(map[*client]struct{})
		h.channels[channelKey] = clients
	}
	clients[c] = struct{}{}
}

// unregister はクライアントを指定チャンネルから取り除く。
// 未登録のクライアントに対しては何もしない（切断処理の重複呼び出しを許容する）。
// 空になったチャンネルはメモリ解放のため削除する。
func (h *hub) unregister(channelKey string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.channels[channelKey]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.channels, channelKey)
	}
}

// broadcast は呼び出し時点でチャンネルに登録されている全クライアントへ
// メッセージを送信する。スナップショット取得後にロックを手放すため、
// 配信中に登録されたクライアントへの遡及配信は行わない。
// 送信バッファが詰まっているクライアントは死んだ接続とみなして
// レジストリから取り除き、他クライアントへの配信は継続する。
func (h *hub) broadcast(channelKey string, msg pushMessage) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.channels[channelKey]))
	for c := range h.channels[channelKey] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			log.Printf("[Hub] 送信バッファが満杯のため接続を破棄します: channel=%s", channelKey)
			h.unregister(channelKey, c)
			c.close()
		}
	}
}

// clientCount は指定チャンネルの現在の登録数を返す。テストと監視ログで使用する。
func (h *hub) clientCount(channelKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channelKey])
}
