package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL はttl未指定時のトークン有効期間。
const DefaultTTL = 8 * time.Hour

// defaultIssuer はトークンのiss クレームに設定する発行者名。
const defaultIssuer = "task-platform-auth"

// ロール。集合は開いており、ここに無いロールも検証は通る。
const (
	RoleUser       = "user"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

var (
	// ErrExpiredToken はトークンの有効期限切れを表す。
	ErrExpiredToken = errors.New("token has expired")
	// ErrMalformedToken はトークンが解析できない、または署名が一致しないことを表す。
	ErrMalformedToken = errors.New("malformed token")
	// ErrMissingSubject はsubクレームが無い、または整数でないことを表す。
	ErrMissingSubject = errors.New("token subject is missing")
	// ErrEmptySecret は署名シークレットが空であることを表す。
	ErrEmptySecret = errors.New("signing secret must not be empty")
)

// Claims はJWTのクレーム（ペイロード）を表す。
// subにはユーザーIDを10進文字列で格納する。
type Claims struct {
	jwt.RegisteredClaims
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Role はユーザーのロール。
	Role string `json:"role"`
}

// Identity は検証済みトークンから復元したアイデンティティ。
type Identity struct {
	// SubjectID はユーザーの数値ID。
	SubjectID int64
	// Email はユーザーのメールアドレス。
	Email string
	// Role はユーザーのロール。
	Role string
	// IssuedAt はトークンの発行日時。
	IssuedAt time.Time
	// ExpiresAt はトークンの有効期限。
	ExpiresAt time.Time
}

// Codec はトークンの発行と検証を行う。
// 生成後は読み取り専用で、複数のgoroutineから同時に使用できる。
type Codec struct {
	secret     []byte
	defaultTTL time.Duration
	issuer     string
	now        func() time.Time
}

// Option はCodecの設定を変更する。
type Option func(*Codec)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// WithDefaultTTL はIssueでttlが0以下のときに使う有効期間を設定する。
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// NewCodec は共有シークレットからCodecを生成する。
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	c := &Codec{
		secret:     []byte(secret),
		defaultTTL: DefaultTTL,
		issuer:     defaultIssuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue はユーザー情報から署名付きトークンを生成する。
// ttlが0以下の場合はデフォルトの有効期間を使う。
// JWTの時刻は秒精度のため、expは秒単位に切り上げてttl以上の有効期間を保証する。
func (c *Codec) Issue(subjectID int64, email, role string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(subjectID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(ceilSecond(now.Add(ttl))),
			Issuer:    c.issuer,
		},
		Email: email,
		Role:  role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ceilSecond は時刻を秒単位に切り上げる。
func ceilSecond(t time.Time) time.Time {
	truncated := t.Truncate(time.Second)
	if truncated.Before(t) {
		return truncated.Add(time.Second)
	}
	return truncated
}

// Verify はトークンを検証してアイデンティティを返す。
// 期限切れは署名の正否に関わらずErrExpiredTokenになる。
func (c *Codec) Verify(tokenString string) (*Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) || c.expiredUnverified(tokenString) {
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	subjectID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: sub=%q is not an integer", ErrMissingSubject, claims.Subject)
	}

	identity := &Identity{
		SubjectID: subjectID,
		Email:     claims.Email,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}
	return identity, nil
}

func (c *Codec) keyFunc(_ *jwt.Token) (any, error) {
	return c.secret, nil
}

// expiredUnverified は署名を検証せずにexpだけを確認する。
func (c *Codec) expiredUnverified(tokenString string) bool {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !c.now().Before(claims.ExpiresAt.Time)
}
