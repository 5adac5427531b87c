package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/taskplatform/pkg/httpclient"
	"github.com/nao1215/taskplatform/pkg/metrics"
	"github.com/nao1215/taskplatform/pkg/middleware"
	"github.com/nao1215/taskplatform/pkg/token"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// jsonContentType はクライアントへ返すContent-Type。
const jsonContentType = "application/json; charset=utf-8"

// proxyRequest は転送中のリクエスト1件の文脈。リクエスト間で共有しない。
type proxyRequest struct {
	route    Route
	backend  Backend
	identity *token.Identity
	outbound httpclient.Request
}

// handleRoute はルート1件分の照合後の処理を行うハンドラを返す。
func (s *Server) handleRoute(route Route, backend Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !numericParams(c.Params) {
			abort(c, KindRouteNotFound, "Not Found", nil)
			return
		}

		pr := &proxyRequest{route: route, backend: backend}
		if route.Auth && !s.authenticate(c, pr) {
			return
		}
		if !s.buildOutbound(c, pr) {
			return
		}

		start := time.Now()
		env := s.forwarder.Forward(c.Request.Context(), backend.BaseURL, pr.outbound)
		s.respond(c, pr, env, time.Since(start))
	}
}

// authenticate はBearerトークンを検証してprにアイデンティティを設定する。
// 失敗した場合は401を返してfalseを返す。
func (s *Server) authenticate(c *gin.Context, pr *proxyRequest) bool {
	identity, err := middleware.VerifyBearer(s.codec, c.GetHeader("Authorization"))
	if err != nil {
		abort(c, authErrorKind(err), middleware.AuthDetail(err), err)
		return false
	}
	pr.identity = identity
	middleware.SetIdentity(c, identity)
	return true
}

// authErrorKind は認証エラーを分類に変換する。
func authErrorKind(err error) ErrorKind {
	switch {
	case errors.Is(err, middleware.ErrAuthorizationMissing):
		return KindAuthenticationMissing
	case errors.Is(err, middleware.ErrAuthorizationFormat):
		return KindAuthenticationMalformed
	case errors.Is(err, token.ErrExpiredToken):
		return KindTokenExpired
	default:
		return KindTokenInvalid
	}
}

// buildOutbound はバックエンドへ送るリクエストを組み立てる。
// クライアントのヘッダーは引き継がず、必要なものだけを新しく設定する。
func (s *Server) buildOutbound(c *gin.Context, pr *proxyRequest) bool {
	var body []byte
	if pr.route.Body != BodyNone {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)
		raw, err := c.GetRawData()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, KindBodyTooLarge, "Request body too large", err)
			return false
		}
		if err != nil {
			abort(c, KindBodyMalformed, "Invalid JSON", err)
			return false
		}
		var subjectID int64
		if pr.identity != nil {
			subjectID = pr.identity.SubjectID
		}
		body, err = prepareBody(pr.route.Body, raw, subjectID)
		if err != nil {
			abort(c, KindBodyMalformed, "Invalid JSON", err)
			return false
		}
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	if requestID := middleware.GetRequestID(c); requestID != "" {
		header.Set(middleware.HeaderRequestID, requestID)
	}
	if pr.identity != nil {
		header.Set(middleware.HeaderUserID, strconv.FormatInt(pr.identity.SubjectID, 10))
		if pr.backend.ForwardToken {
			header.Set("Authorization", c.GetHeader("Authorization"))
		}
	}
	if body != nil {
		header.Set("Content-Type", "application/json")
	}

	pr.outbound = httpclient.Request{
		Method:   c.Request.Method,
		Path:     pr.route.backendPath(c.Params),
		RawQuery: c.Request.URL.RawQuery,
		Header:   header,
		Body:     body,
	}
	return true
}

// respond はバックエンドの結果をクライアント向けの応答に整形する。
func (s *Server) respond(c *gin.Context, pr *proxyRequest, env httpclient.Envelope, elapsed time.Duration) {
	label := pr.backend.Label

	if env.Synthesized && c.Request.Context().Err() != nil {
		// クライアント起因の中断は不達に含めない。
		s.metrics.ObserveBackend(pr.backend.Name, metrics.OutcomeCanceled, elapsed)
		s.logger.Info("クライアントの切断でバックエンド呼び出しを中断しました",
			zap.String("service", pr.backend.Name),
			zap.String("path", pr.outbound.Path),
		)
		abort(c, KindBackendUnavailable, label+" service unavailable", env.Err)
		return
	}

	if env.Synthesized {
		s.metrics.ObserveBackend(pr.backend.Name, metrics.OutcomeUnavailable, elapsed)
		s.logger.Warn("バックエンドに接続できません",
			zap.String("service", pr.backend.Name),
			zap.String("path", pr.outbound.Path),
			zap.Int("attempts", env.Attempts),
			zap.Error(env.Err),
		)
		abort(c, KindBackendUnavailable, label+" service unavailable", env.Err)
		return
	}

	if len(env.Body) == 0 {
		s.metrics.ObserveBackend(pr.backend.Name, metrics.OutcomeOK, elapsed)
		s.recordBackendError(c, env.StatusCode, label)
		c.Status(env.StatusCode)
		c.Writer.WriteHeaderNow()
		return
	}

	if !gjson.ValidBytes(env.Body) {
		s.metrics.ObserveBackend(pr.backend.Name, metrics.OutcomeInvalid, elapsed)
		s.logger.Warn("バックエンドの応答がJSONではありません",
			zap.String("service", pr.backend.Name),
			zap.Int("status", env.StatusCode),
			zap.String("content_type", env.ContentType),
		)
		abort(c, KindBackendInvalidResponse, label+" service returned an invalid response", nil)
		return
	}

	s.metrics.ObserveBackend(pr.backend.Name, metrics.OutcomeOK, elapsed)
	s.recordBackendError(c, env.StatusCode, label)
	c.Data(env.StatusCode, jsonContentType, env.Body)
}

// recordBackendError はバックエンドが返したエラーステータスをアクセスログ用に記録する。
func (s *Server) recordBackendError(c *gin.Context, status int, label string) {
	if status < http.StatusBadRequest {
		return
	}
	_ = c.Error(&Error{Kind: KindBackendError, Detail: label + " service returned " + strconv.Itoa(status)})
}
