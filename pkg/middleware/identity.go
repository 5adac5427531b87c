package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/taskplatform/pkg/token"
)

// HeaderUserID はgatewayがバックエンドへユーザーIDを伝播するHTTPヘッダーキー。
const HeaderUserID = "X-User-Id"

// bearerPrefix はAuthorizationヘッダーのスキーム部分。
const bearerPrefix = "Bearer "

// コンテキストキー。
const (
	contextKeyUserID   = "user_id"
	contextKeyIdentity = "identity"
)

var (
	// ErrAuthorizationMissing はAuthorizationヘッダーが無いことを表す。
	ErrAuthorizationMissing = errors.New("authorization header is missing")
	// ErrAuthorizationFormat はAuthorizationヘッダーがBearer形式でないことを表す。
	ErrAuthorizationFormat = errors.New("authorization header is not a bearer token")
)

// VerifyBearer はAuthorizationヘッダーの値からトークンを取り出して検証する。
// 返すエラーはErrAuthorizationMissing、ErrAuthorizationFormat、またはtokenパッケージのエラー。
func VerifyBearer(codec *token.Codec, header string) (*token.Identity, error) {
	if header == "" {
		return nil, ErrAuthorizationMissing
	}
	raw, found := strings.CutPrefix(header, bearerPrefix)
	if !found {
		return nil, ErrAuthorizationFormat
	}
	return codec.Verify(raw)
}

// AuthDetail はVerifyBearerのエラーをクライアント向けのdetail文言に変換する。
func AuthDetail(err error) string {
	switch {
	case errors.Is(err, ErrAuthorizationMissing):
		return "Authentication required"
	case errors.Is(err, ErrAuthorizationFormat):
		return "Invalid authorization header format"
	case errors.Is(err, token.ErrExpiredToken):
		return "Token has expired"
	case errors.Is(err, token.ErrMissingSubject):
		return "Invalid token payload"
	default:
		return "Invalid token"
	}
}

// BearerAuth はBearerトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストにユーザーIDとアイデンティティを設定する。
func BearerAuth(codec *token.Codec) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := VerifyBearer(codec, c.GetHeader("Authorization"))
		if err != nil {
			AbortWithDetail(c, http.StatusUnauthorized, AuthDetail(err), err)
			return
		}
		SetIdentity(c, identity)
		c.Next()
	}
}

// TrustedUser はX-User-Idヘッダーを信頼してユーザーIDを設定するGinミドルウェアを返す。
// gatewayの内側で動くサービス専用。ヘッダーが無いか整数でない場合は401を返す。
func TrustedUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader(HeaderUserID), 10, 64)
		if err != nil {
			AbortWithDetail(c, http.StatusUnauthorized, "Authentication required", ErrAuthorizationMissing)
			return
		}
		c.Set(contextKeyUserID, userID)
		c.Next()
	}
}

// SetIdentity は検証済みアイデンティティをコンテキストに設定する。
func SetIdentity(c *gin.Context, identity *token.Identity) {
	c.Set(contextKeyIdentity, identity)
	c.Set(contextKeyUserID, identity.SubjectID)
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// 未認証の場合は0を返す。
func GetUserID(c *gin.Context) int64 {
	return c.GetInt64(contextKeyUserID)
}

// GetIdentity はGinコンテキストから検証済みアイデンティティを取得する。
// TrustedUserで認証した場合はnilを返す。
func GetIdentity(c *gin.Context) *token.Identity {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return nil
	}
	identity, _ := v.(*token.Identity)
	return identity
}
