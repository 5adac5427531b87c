package gateway

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/taskplatform/pkg/middleware"
)

// ErrorKind はgatewayが返す失敗の分類。
type ErrorKind int

const (
	KindRouteNotFound ErrorKind = iota
	KindAuthenticationMissing
	KindAuthenticationMalformed
	KindTokenExpired
	KindTokenInvalid
	KindBodyMalformed
	KindBodyTooLarge
	KindBackendUnavailable
	KindBackendInvalidResponse
	KindBackendError
	KindInternal
)

var kindNames = map[ErrorKind]string{
	KindRouteNotFound:           "RouteNotFound",
	KindAuthenticationMissing:   "AuthenticationMissing",
	KindAuthenticationMalformed: "AuthenticationMalformed",
	KindTokenExpired:            "TokenExpired",
	KindTokenInvalid:            "TokenInvalid",
	KindBodyMalformed:           "BodyMalformed",
	KindBodyTooLarge:            "BodyTooLarge",
	KindBackendUnavailable:      "BackendUnavailable",
	KindBackendInvalidResponse:  "BackendInvalidResponse",
	KindBackendError:            "BackendError",
	KindInternal:                "Internal",
}

// String は分類名を返す。
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Status は分類に対応するHTTPステータスを返す。
// KindBackendErrorはバックエンドのステータスをそのまま使うため0を返す。
func (k ErrorKind) Status() int {
	switch k {
	case KindRouteNotFound:
		return http.StatusNotFound
	case KindAuthenticationMissing, KindAuthenticationMalformed, KindTokenExpired, KindTokenInvalid:
		return http.StatusUnauthorized
	case KindBodyMalformed:
		return http.StatusBadRequest
	case KindBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case KindBackendInvalidResponse:
		return http.StatusBadGateway
	case KindBackendError:
		return 0
	default:
		return http.StatusInternalServerError
	}
}

// Error はアクセスログに記録するgatewayのエラー。
type Error struct {
	// Kind は失敗の分類。
	Kind ErrorKind
	// Detail はクライアントに返した文言。
	Detail string
	// Err は原因。無い場合はnil。
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// abort は分類に応じたステータスと {"detail": ...} を返して処理を中断する。
func abort(c *gin.Context, kind ErrorKind, detail string, cause error) {
	middleware.AbortWithDetail(c, kind.Status(), detail, &Error{Kind: kind, Detail: detail, Err: cause})
}
