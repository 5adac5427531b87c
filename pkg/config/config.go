// Package config は各サービスの設定を環境変数から読み込む。
//
// 設定は起動時に一度だけ構築し、以後は読み取り専用の値として
// 必要なコンポーネントにポインタで渡す。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// DefaultJWTSecret は開発用の共有シークレット。本番では必ず上書きすること。
const DefaultJWTSecret = "your-secret-jwt-key-change-in-production-12345"

// タスクサービスのアイデンティティ解決方式。
const (
	// TrustModeToken はBearerトークンを自前で再検証する。
	TrustModeToken = "token"
	// TrustModeHeader はgatewayが付与したX-User-Idヘッダーを信頼する。
	TrustModeHeader = "header"
)

// Gateway はAPI Gatewayの設定。
type Gateway struct {
	// Port はリッスンポート。
	Port string `env:"PORT,default=8000"`
	// AuthServiceURL は認証サービスのベースURL。
	AuthServiceURL string `env:"AUTH_SERVICE_URL,default=http://auth-service:8001"`
	// TaskServiceURL はタスクサービスのベースURL。
	TaskServiceURL string `env:"TASK_SERVICE_URL,default=http://task-service:8002"`
	// NotificationServiceURL は通知サービスのベースURL。
	NotificationServiceURL string `env:"NOTIFICATION_SERVICE_URL,default=http://notification-service:8003"`
	// JWTSecretKey はトークン検証用の共有シークレット。
	JWTSecretKey string `env:"JWT_SECRET_KEY,default=your-secret-jwt-key-change-in-production-12345"`
	// BackendTimeout はバックエンド呼び出し1回あたりのタイムアウト。
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT,default=30s"`
	// BackendMaxRetries は接続失敗時の最大リトライ回数。0でリトライしない。
	BackendMaxRetries int `env:"BACKEND_MAX_RETRIES,default=0"`
	// BackendRetryBackoff はリトライ間隔の初期値。
	BackendRetryBackoff time.Duration `env:"BACKEND_RETRY_BACKOFF,default=200ms"`
	// TaskForwardToken はタスクサービスへ元のAuthorizationヘッダーを転送するか。
	TaskForwardToken bool `env:"TASK_SERVICE_FORWARD_TOKEN,default=true"`
	// NotificationForwardToken は通知サービスへ元のAuthorizationヘッダーを転送するか。
	NotificationForwardToken bool `env:"NOTIFICATION_SERVICE_FORWARD_TOKEN,default=false"`
	// RoutesFile は組み込みのルート表を置き換えるYAMLファイルのパス。
	RoutesFile string `env:"GATEWAY_ROUTES_FILE"`
	// RateLimitRPS はクライアントIPごとの秒間リクエスト数。0で無効。
	RateLimitRPS float64 `env:"RATE_LIMIT_RPS,default=0"`
	// RateLimitBurst はレート制限のバースト許容量。
	RateLimitBurst int `env:"RATE_LIMIT_BURST,default=20"`
	// CORSAllowedOrigins はカンマ区切りの許可オリジン。"*"で全許可。
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	// TLSCertFile はTLS証明書ファイル。TLSKeyFileと併せて指定するとTLSで待ち受ける。
	TLSCertFile string `env:"TLS_CERT_FILE"`
	// TLSKeyFile はTLS秘密鍵ファイル。
	TLSKeyFile string `env:"TLS_KEY_FILE"`
	// LogLevel はログレベル。
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Auth は認証サービスの設定。
type Auth struct {
	Port         string        `env:"PORT,default=8001"`
	DatabaseURL  string        `env:"DATABASE_URL,default=file:/data/auth.db?_pragma=busy_timeout(5000)"`
	JWTSecretKey string        `env:"JWT_SECRET_KEY,default=your-secret-jwt-key-change-in-production-12345"`
	TokenTTL     time.Duration `env:"TOKEN_TTL,default=8h"`
	LogLevel     string        `env:"LOG_LEVEL,default=info"`
}

// Task はタスクサービスの設定。
type Task struct {
	Port         string `env:"PORT,default=8002"`
	DatabaseURL  string `env:"DATABASE_URL,default=file:/data/task.db?_pragma=busy_timeout(5000)"`
	JWTSecretKey string `env:"JWT_SECRET_KEY,default=your-secret-jwt-key-change-in-production-12345"`
	// TrustMode は "token" または "header"。
	TrustMode              string        `env:"TASK_TRUST_MODE,default=token"`
	NotificationServiceURL string        `env:"NOTIFICATION_SERVICE_URL,default=http://notification-service:8003"`
	NotifyTimeout          time.Duration `env:"NOTIFY_TIMEOUT,default=2s"`
	LogLevel               string        `env:"LOG_LEVEL,default=info"`
}

// Notification は通知サービスの設定。
type Notification struct {
	Port        string `env:"PORT,default=8003"`
	DatabaseURL string `env:"DATABASE_URL,default=file:/data/notification.db?_pragma=busy_timeout(5000)"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

// LoadDotEnv はカレントディレクトリの.envを読み込む。
// ファイルが無い場合はfalseを返し、環境変数だけを使う。
func LoadDotEnv() bool {
	return godotenv.Load() == nil
}

// LoadGateway は環境変数からGateway設定を読み込んで検証する。
func LoadGateway() (*Gateway, error) {
	cfg := &Gateway{}
	if err := decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAuth は環境変数から認証サービス設定を読み込んで検証する。
func LoadAuth() (*Auth, error) {
	cfg := &Auth{}
	if err := decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTask は環境変数からタスクサービス設定を読み込んで検証する。
func LoadTask() (*Task, error) {
	cfg := &Task{}
	if err := decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadNotification は環境変数から通知サービス設定を読み込んで検証する。
func LoadNotification() (*Notification, error) {
	cfg := &Notification{}
	if err := decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(target any) error {
	if err := envdecode.Decode(target); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}
	return nil
}

// Validate はGateway設定の整合性を検証する。
func (c *Gateway) Validate() error {
	if c.Port == "" {
		return errors.New("config: PORT is required")
	}
	for name, raw := range map[string]string{
		"AUTH_SERVICE_URL":         c.AuthServiceURL,
		"TASK_SERVICE_URL":         c.TaskServiceURL,
		"NOTIFICATION_SERVICE_URL": c.NotificationServiceURL,
	} {
		if err := validateBaseURL(raw); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if c.JWTSecretKey == "" {
		return errors.New("config: JWT_SECRET_KEY is required")
	}
	if c.BackendTimeout <= 0 {
		return errors.New("config: BACKEND_TIMEOUT must be positive")
	}
	if c.BackendMaxRetries < 0 {
		return errors.New("config: BACKEND_MAX_RETRIES must not be negative")
	}
	if c.RateLimitRPS < 0 {
		return errors.New("config: RATE_LIMIT_RPS must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		return errors.New("config: RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("config: TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	return nil
}

// AllowedOrigins はCORS_ALLOWED_ORIGINSを分割して返す。
func (c *Gateway) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// TLSEnabled はTLSで待ち受けるかを返す。
func (c *Gateway) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// UsesDefaultSecret は開発用シークレットのまま起動しているかを返す。
func (c *Gateway) UsesDefaultSecret() bool {
	return c.JWTSecretKey == DefaultJWTSecret
}

// Validate は認証サービス設定の整合性を検証する。
func (c *Auth) Validate() error {
	if c.Port == "" {
		return errors.New("config: PORT is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL is required")
	}
	if c.JWTSecretKey == "" {
		return errors.New("config: JWT_SECRET_KEY is required")
	}
	// トークンの時刻は秒精度のため、1秒未満の有効期間は扱えない。
	if c.TokenTTL < time.Second {
		return errors.New("config: TOKEN_TTL must be at least 1s")
	}
	return nil
}

// Validate はタスクサービス設定の整合性を検証する。
func (c *Task) Validate() error {
	if c.Port == "" {
		return errors.New("config: PORT is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL is required")
	}
	switch c.TrustMode {
	case TrustModeToken:
		if c.JWTSecretKey == "" {
			return errors.New("config: JWT_SECRET_KEY is required in token trust mode")
		}
	case TrustModeHeader:
	default:
		return fmt.Errorf("config: TASK_TRUST_MODE must be %q or %q, got %q", TrustModeToken, TrustModeHeader, c.TrustMode)
	}
	if err := validateBaseURL(c.NotificationServiceURL); err != nil {
		return fmt.Errorf("config: NOTIFICATION_SERVICE_URL: %w", err)
	}
	if c.NotifyTimeout <= 0 {
		return errors.New("config: NOTIFY_TIMEOUT must be positive")
	}
	return nil
}

// Validate は通知サービス設定の整合性を検証する。
func (c *Notification) Validate() error {
	if c.Port == "" {
		return errors.New("config: PORT is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL is required")
	}
	return nil
}

// validateBaseURL はhttp(s)の絶対URLであることを確認する。
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https: %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required: %q", raw)
	}
	return nil
}
