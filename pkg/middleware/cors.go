package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// wildcardOrigin は全オリジンを許可する指定。
const wildcardOrigin = "*"

// corsPolicy はゲートウェイが公開するAPIのクロスオリジン許可設定。
type corsPolicy struct {
	origins  map[string]struct{}
	allowAll bool
	methods  string
	headers  string
	maxAge   string
}

// newCORSPolicy は許可オリジンの一覧からポリシーを組み立てる。
func newCORSPolicy(allowedOrigins []string) *corsPolicy {
	p := &corsPolicy{
		origins: make(map[string]struct{}, len(allowedOrigins)),
		methods: strings.Join([]string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
		}, ", "),
		headers: strings.Join([]string{"Authorization", "Content-Type", HeaderRequestID}, ", "),
		maxAge:  strconv.Itoa(int((24 * time.Hour).Seconds())),
	}
	for _, o := range allowedOrigins {
		if o == wildcardOrigin {
			p.allowAll = true
			continue
		}
		p.origins[o] = struct{}{}
	}
	return p
}

// allows はoriginからのリクエストを許可するかを返す。
func (p *corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.allowAll {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// allowedOriginsに"*"を含めると全オリジンを許可する。
// OPTIONSはプリフライトとして扱い、後続のハンドラーを呼ばずに204を返す。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	policy := newCORSPolicy(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := policy.allows(origin)
		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}

		if allowed {
			c.Header("Access-Control-Allow-Methods", policy.methods)
			c.Header("Access-Control-Allow-Headers", policy.headers)
			c.Header("Access-Control-Max-Age", policy.maxAge)
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}
