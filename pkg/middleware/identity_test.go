package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/taskplatform/pkg/token"
)

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// newTestCodec はテスト用のCodecを生成する。
func newTestCodec(t *testing.T, now time.Time) *token.Codec {
	t.Helper()

	codec, err := token.NewCodec(testSecret, token.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewCodec()でエラーが発生: %v", err)
	}
	return codec
}

// decodeDetail はレスポンスボディのdetailを取り出す。
func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v", err)
	}
	return body["detail"]
}

// TestBearerAuth はBearerAuthミドルウェアを検証する。
func TestBearerAuth(t *testing.T) {
	t.Parallel()

	now := time.Now()
	codec := newTestCodec(t, now)
	valid, err := codec.Issue(42, "user@example.com", token.RoleUser, time.Hour)
	if err != nil {
		t.Fatalf("Issue()でエラーが発生: %v", err)
	}
	expired, err := newTestCodec(t, now.Add(-2*time.Hour)).Issue(42, "user@example.com", token.RoleUser, time.Hour)
	if err != nil {
		t.Fatalf("Issue()でエラーが発生: %v", err)
	}

	newRouter := func(called *bool) *gin.Engine {
		router := gin.New()
		router.Use(BearerAuth(codec))
		router.GET("/protected", func(c *gin.Context) {
			*called = true
			identity := GetIdentity(c)
			c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "email": identity.Email})
		})
		return router
	}

	t.Run("有効なトークンでユーザーIDがコンテキストに設定されること", func(t *testing.T) {
		t.Parallel()

		called := false
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+valid)
		w := httptest.NewRecorder()

		newRouter(&called).ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		var body struct {
			UserID int64  `json:"user_id"`
			Email  string `json:"email"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		if body.UserID != 42 {
			t.Errorf("user_id = %d, want 42", body.UserID)
		}
		if body.Email != "user@example.com" {
			t.Errorf("email = %q, want %q", body.Email, "user@example.com")
		}
	})

	cases := []struct {
		name   string
		header string
		detail string
	}{
		{"Authorizationヘッダーが無い場合", "", "Authentication required"},
		{"Bearer形式でない場合", "Basic dXNlcjpwYXNz", "Invalid authorization header format"},
		{"小文字のbearerの場合", "bearer " + valid, "Invalid authorization header format"},
		{"期限切れトークンの場合", "Bearer " + expired, "Token has expired"},
		{"不正なトークンの場合", "Bearer not-a-token", "Invalid token"},
	}
	for _, tc := range cases {
		t.Run(tc.name+"は401が返りハンドラーが呼ばれないこと", func(t *testing.T) {
			t.Parallel()

			called := false
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()

			newRouter(&called).ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if got := decodeDetail(t, w); got != tc.detail {
				t.Errorf("detail = %q, want %q", got, tc.detail)
			}
			if called {
				t.Error("認証失敗時にハンドラーが呼ばれるべきではない")
			}
		})
	}
}

// TestTrustedUser はTrustedUserミドルウェアを検証する。
func TestTrustedUser(t *testing.T) {
	t.Parallel()

	newRouter := func() *gin.Engine {
		router := gin.New()
		router.Use(TrustedUser())
		router.GET("/me", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "has_identity": GetIdentity(c) != nil})
		})
		return router
	}

	t.Run("X-User-Idヘッダーの値がユーザーIDになること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(HeaderUserID, "9")
		w := httptest.NewRecorder()

		newRouter().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if got := w.Body.String(); got != `{"has_identity":false,"user_id":9}` {
			t.Errorf("body = %s", got)
		}
	})

	t.Run("ヘッダーが無いか整数でない場合は401が返ること", func(t *testing.T) {
		t.Parallel()

		for _, v := range []string{"", "abc", "1.5"} {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if v != "" {
				req.Header.Set(HeaderUserID, v)
			}
			w := httptest.NewRecorder()

			newRouter().ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("X-User-Id=%q: ステータスコード = %d, want %d", v, w.Code, http.StatusUnauthorized)
			}
		}
	})
}
