package httpclient

import (
	"net/http"
	"time"
)

// RetryPolicy は合成済み失敗（接続不可・タイムアウト）の後に再試行するかを決める。
// attemptは直前に終わった試行の番号（1始まり）。
type RetryPolicy interface {
	Next(method string, attempt int) (time.Duration, bool)
}

// NoRetry は再試行しないポリシー。Forwarderの既定値。
type NoRetry struct{}

// Next は常にfalseを返す。
func (NoRetry) Next(string, int) (time.Duration, bool) {
	return 0, false
}

// Backoff は冪等なメソッドだけを指数バックオフで再試行するポリシー。
type Backoff struct {
	// MaxRetries は最大再試行回数。
	MaxRetries int
	// BaseDelay は1回目の再試行までの待ち時間。以後は倍になる。
	BaseDelay time.Duration
	// MaxDelay は待ち時間の上限。0なら上限なし。
	MaxDelay time.Duration
}

// Next は次の試行までの待ち時間を返す。
func (b Backoff) Next(method string, attempt int) (time.Duration, bool) {
	if attempt > b.MaxRetries || !idempotent(method) {
		return 0, false
	}
	delay := b.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.MaxDelay > 0 && delay >= b.MaxDelay {
			break
		}
	}
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return delay, true
}

// idempotent は再送しても結果が変わらないメソッドかを返す。
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}
