package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/taskplatform/pkg/config"
)

// serveCORS はCORSミドルウェアを通してmethodのリクエストを1件処理する。
// 戻り値の2番目は後続のハンドラーが呼ばれたかを表す。
func serveCORS(t *testing.T, allowed []string, method, origin string) (*httptest.ResponseRecorder, bool) {
	t.Helper()

	reached := false
	router := gin.New()
	router.Use(CORS(allowed))
	router.Handle(method, "/tasks", func(c *gin.Context) {
		reached = true
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(method, "/tasks", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w, reached
}

// TestCORS はCORSミドルウェアを検証する。
func TestCORS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		allowed     []string
		method      string
		origin      string
		wantStatus  int
		wantOrigin  string
		wantReached bool
	}{
		{"許可リストの各オリジンが許可されること", []string{"http://localhost:3000", "https://app.example"}, http.MethodGet, "https://app.example", http.StatusOK, "https://app.example", true},
		{"許可されていないオリジンにはヘッダーが付かないこと", []string{"http://localhost:3000"}, http.MethodGet, "https://evil.example", http.StatusOK, "", true},
		{"Originが無いリクエストにはヘッダーが付かないこと", []string{"http://localhost:3000"}, http.MethodPost, "", http.StatusOK, "", true},
		{"空の許可リストでは何も許可されないこと", nil, http.MethodGet, "http://localhost:3000", http.StatusOK, "", true},
		{"ワイルドカードで任意のオリジンが許可されること", []string{"*"}, http.MethodDelete, "https://anywhere.example", http.StatusOK, "https://anywhere.example", true},
		{"ワイルドカードでもOriginが無ければヘッダーが付かないこと", []string{"*"}, http.MethodGet, "", http.StatusOK, "", true},
		{"プリフライトは204でハンドラーに届かないこと", []string{"http://localhost:3000"}, http.MethodOptions, "http://localhost:3000", http.StatusNoContent, "http://localhost:3000", false},
		{"許可されていないオリジンのプリフライトも204になること", []string{"http://localhost:3000"}, http.MethodOptions, "https://evil.example", http.StatusNoContent, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w, reached := serveCORS(t, tt.allowed, tt.method, tt.origin)
			if w.Code != tt.wantStatus {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if tt.wantOrigin != "" && w.Header().Get("Vary") != "Origin" {
				t.Errorf("Vary = %q, want %q", w.Header().Get("Vary"), "Origin")
			}
			if reached != tt.wantReached {
				t.Errorf("ハンドラー到達 = %v, want %v", reached, tt.wantReached)
			}
		})
	}

	t.Run("許可されたプリフライトにメソッドとヘッダーの許可が付くこと", func(t *testing.T) {
		t.Parallel()

		w, _ := serveCORS(t, []string{"http://localhost:3000"}, http.MethodOptions, "http://localhost:3000")
		want := map[string]string{
			"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, OPTIONS",
			"Access-Control-Allow-Headers": "Authorization, Content-Type, X-Request-ID",
			"Access-Control-Max-Age":       "86400",
		}
		for k, v := range want {
			if got := w.Header().Get(k); got != v {
				t.Errorf("%s = %q, want %q", k, got, v)
			}
		}
	})

	t.Run("プリフライト以外にはメソッドの許可が付かないこと", func(t *testing.T) {
		t.Parallel()

		w, _ := serveCORS(t, []string{"http://localhost:3000"}, http.MethodGet, "http://localhost:3000")
		if got := w.Header().Get("Access-Control-Allow-Methods"); got != "" {
			t.Errorf("Access-Control-Allow-Methods = %q, want empty string", got)
		}
	})
}

// clearGatewayEnv は設定の読み込みが外部環境に左右されないように関連する環境変数を空にする。
func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "AUTH_SERVICE_URL", "TASK_SERVICE_URL", "NOTIFICATION_SERVICE_URL", "JWT_SECRET_KEY",
		"BACKEND_TIMEOUT", "BACKEND_MAX_RETRIES", "TLS_CERT_FILE", "TLS_KEY_FILE", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	} {
		t.Setenv(k, "")
	}
}

// TestCORSFromConfig はCORS_ALLOWED_ORIGINSの値がそのまま許可リストになることを検証する。
// t.Setenvを使うため並列実行しない。
func TestCORSFromConfig(t *testing.T) {
	t.Run("カンマ区切りの各オリジンが空白を除いて許可されること", func(t *testing.T) {
		clearGatewayEnv(t)
		t.Setenv("CORS_ALLOWED_ORIGINS", " http://a.example ,http://b.example,, ")

		cfg, err := config.LoadGateway()
		if err != nil {
			t.Fatalf("LoadGateway()でエラーが発生: %v", err)
		}
		allowed := cfg.AllowedOrigins()

		for _, origin := range []string{"http://a.example", "http://b.example"} {
			w, _ := serveCORS(t, allowed, http.MethodGet, origin)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != origin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, origin)
			}
		}
		w, _ := serveCORS(t, allowed, http.MethodGet, "http://c.example")
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty string", got)
		}
	})

	t.Run("未設定の場合は全オリジンが許可されること", func(t *testing.T) {
		clearGatewayEnv(t)
		t.Setenv("CORS_ALLOWED_ORIGINS", "")

		cfg, err := config.LoadGateway()
		if err != nil {
			t.Fatalf("LoadGateway()でエラーが発生: %v", err)
		}
		w, _ := serveCORS(t, cfg.AllowedOrigins(), http.MethodGet, "https://anywhere.example")
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example" {
			t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "https://anywhere.example")
		}
	})
}
