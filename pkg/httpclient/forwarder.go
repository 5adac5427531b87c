package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout はバックエンド呼び出し1回あたりの既定タイムアウト。
const DefaultTimeout = 30 * time.Second

// maxResponseBytes は読み込むレスポンスボディの上限。
const maxResponseBytes = 10 << 20

// Request はバックエンドへ送る1件のリクエスト。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// Path はバックエンド上のパス。
	Path string
	// RawQuery はクライアントから受け取ったクエリ文字列。
	RawQuery string
	// Header は送信するヘッダー。呼び出し側で組み立てたものだけを送る。
	Header http.Header
	// Body は送信するボディ。nilならボディなし。
	Body []byte
}

// Envelope はバックエンド呼び出しの正規化された結果。
type Envelope struct {
	// StatusCode はバックエンドのステータスコード。合成時は503。
	StatusCode int
	// ContentType はバックエンドのContent-Type。
	ContentType string
	// Body はバックエンドのレスポンスボディ。
	Body []byte
	// Synthesized はバックエンドに到達できずに合成した結果であることを表す。
	Synthesized bool
	// Err は合成の原因。ログ出力用。
	Err error
	// Attempts は試行回数。
	Attempts int
}

// Forwarder はバックエンドへのリクエストを中継する。
// 内部のhttp.Clientはプロセス全体で共有し、接続をプールする。
type Forwarder struct {
	client  *http.Client
	timeout time.Duration
	retry   RetryPolicy
}

// ForwarderOption はForwarderの設定を変更する。
type ForwarderOption func(*Forwarder)

// WithTimeout は試行1回あたりのタイムアウトを設定する。
func WithTimeout(d time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithRetryPolicy は再試行ポリシーを設定する。
func WithRetryPolicy(p RetryPolicy) ForwarderOption {
	return func(f *Forwarder) {
		if p != nil {
			f.retry = p
		}
	}
}

// WithTransport は下位のRoundTripperを差し替える。
func WithTransport(rt http.RoundTripper) ForwarderOption {
	return func(f *Forwarder) {
		f.client.Transport = rt
	}
}

// NewForwarder はForwarderを生成する。
func NewForwarder(opts ...ForwarderOption) *Forwarder {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32

	f := &Forwarder{
		client:  &http.Client{Transport: transport},
		timeout: DefaultTimeout,
		retry:   NoRetry{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward はbaseURLのバックエンドへリクエストを送り、結果をEnvelopeで返す。
// ctxがキャンセルされると送信中の呼び出しも中断する。
func (f *Forwarder) Forward(ctx context.Context, baseURL string, req Request) Envelope {
	for attempt := 1; ; attempt++ {
		env := f.do(ctx, baseURL, req)
		env.Attempts = attempt
		if !env.Synthesized || ctx.Err() != nil {
			return env
		}

		delay, ok := f.retry.Next(req.Method, attempt)
		if !ok {
			return env
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return env
		case <-timer.C:
		}
	}
}

// Close はプールしている接続を解放する。
func (f *Forwarder) Close() {
	f.client.CloseIdleConnections()
}

// do は1回分の試行を行う。
func (f *Forwarder) do(ctx context.Context, baseURL string, req Request) Envelope {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	target := strings.TrimRight(baseURL, "/") + req.Path
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return synthesized(fmt.Errorf("HTTPリクエストの作成に失敗: %w", err))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return synthesized(fmt.Errorf("HTTPリクエストの送信に失敗: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return synthesized(fmt.Errorf("レスポンスボディの読み込みに失敗: %w", err))
	}

	return Envelope{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}
}

// synthesized はバックエンドに到達できなかったときのEnvelopeを作る。
func synthesized(err error) Envelope {
	return Envelope{
		StatusCode:  http.StatusServiceUnavailable,
		Synthesized: true,
		Err:         err,
	}
}
