package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nao1215/taskplatform/pkg/config"
)

// バックエンドサービス名。ルート表のserviceに書く値。
const (
	ServiceAuth         = "auth"
	ServiceTask         = "task"
	ServiceNotification = "notification"
)

// ErrUnknownService は登録されていないサービス名を表す。
var ErrUnknownService = errors.New("unknown backend service")

// Backend は転送先サービス1件の設定。
type Backend struct {
	// Name はサービス名。
	Name string
	// Label はクライアント向けメッセージに使う表示名（例: "Task"）。
	Label string
	// BaseURL はサービスのベースURL。
	BaseURL string
	// ForwardToken は元のAuthorizationヘッダーを転送するか。
	ForwardToken bool
}

// Registry はサービス名からBackendを引く読み取り専用の表。
type Registry struct {
	backends map[string]Backend
}

// NewRegistry はBackendの一覧からRegistryを生成する。
// 名前の重複と不正なURLはエラーになる。
func NewRegistry(backends ...Backend) (*Registry, error) {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		if b.Name == "" {
			return nil, errors.New("backend name is required")
		}
		if _, dup := r.backends[b.Name]; dup {
			return nil, fmt.Errorf("backend %q is registered twice", b.Name)
		}
		u, err := url.Parse(b.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("backend %q: invalid base url %q", b.Name, b.BaseURL)
		}
		if b.Label == "" {
			b.Label = strings.ToUpper(b.Name[:1]) + b.Name[1:]
		}
		b.BaseURL = strings.TrimRight(b.BaseURL, "/")
		r.backends[b.Name] = b
	}
	return r, nil
}

// RegistryFromConfig はGateway設定から3つのバックエンドを登録したRegistryを生成する。
func RegistryFromConfig(cfg *config.Gateway) (*Registry, error) {
	return NewRegistry(
		Backend{Name: ServiceAuth, Label: "Auth", BaseURL: cfg.AuthServiceURL},
		Backend{Name: ServiceTask, Label: "Task", BaseURL: cfg.TaskServiceURL, ForwardToken: cfg.TaskForwardToken},
		Backend{Name: ServiceNotification, Label: "Notification", BaseURL: cfg.NotificationServiceURL, ForwardToken: cfg.NotificationForwardToken},
	)
}

// Resolve はサービス名に対応するBackendを返す。
func (r *Registry) Resolve(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return Backend{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	return b, nil
}

// Addresses はサービス名とベースURLの対応を返す。ヘルスチェックの表示用。
func (r *Registry) Addresses() map[string]string {
	addrs := make(map[string]string, len(r.backends))
	for name, b := range r.backends {
		addrs[name] = b.BaseURL
	}
	return addrs
}
