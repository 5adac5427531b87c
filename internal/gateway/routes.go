package gateway

import (
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
)

//go:embed routes.yaml
var defaultRoutes []byte

// BodyKind はルートごとのリクエストボディの扱い。
type BodyKind string

const (
	// BodyNone はボディを転送しない。
	BodyNone BodyKind = "none"
	// BodyJSON はJSONとして検証したうえでそのまま転送する。
	BodyJSON BodyKind = "json"
	// BodyTask はタスク作成用。JSONオブジェクトに限り、assigned_toを補完する。
	BodyTask BodyKind = "task"
)

// Route はインバウンドの(メソッド, パス)と転送先の対応。
type Route struct {
	// Method はHTTPメソッド。
	Method string `yaml:"method"`
	// Path はginのパスパターン。パラメータは最大1つ。
	Path string `yaml:"path"`
	// Service は転送先のサービス名。
	Service string `yaml:"service"`
	// Auth はBearerトークンによる認証が必要か。
	Auth bool `yaml:"auth"`
	// Rewrite はバックエンド上のパステンプレート。
	Rewrite string `yaml:"rewrite"`
	// Body はボディの扱い。
	Body BodyKind `yaml:"body"`
}

// routeTable はYAMLファイルの最上位。
type routeTable struct {
	Routes []Route `yaml:"routes"`
}

// LoadRoutes はルート表を読み込んで検証する。
// pathが空なら組み込みのルート表を使う。
func LoadRoutes(path string) ([]Route, error) {
	data := defaultRoutes
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ルート表の読み込みに失敗: %w", err)
		}
		data = b
	}
	return parseRoutes(data)
}

// parseRoutes はYAMLからルート表を作る。
func parseRoutes(data []byte) ([]Route, error) {
	var table routeTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("ルート表のパースに失敗: %w", err)
	}
	if len(table.Routes) == 0 {
		return nil, fmt.Errorf("ルート表が空です")
	}

	seen := make(map[string]struct{}, len(table.Routes))
	for i := range table.Routes {
		r := &table.Routes[i]
		r.Method = strings.ToUpper(r.Method)
		if r.Body == "" {
			r.Body = BodyNone
		}
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("ルート %d (%s %s): %w", i, r.Method, r.Path, err)
		}
		key := r.Method + " " + r.Path
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("ルート %s が重複しています", key)
		}
		seen[key] = struct{}{}
	}
	return table.Routes, nil
}

// validate はルート1件の整合性を確認する。
func (r Route) validate() error {
	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("未対応のメソッド %q", r.Method)
	}
	if !strings.HasPrefix(r.Path, "/") || !strings.HasPrefix(r.Rewrite, "/") {
		return fmt.Errorf("pathとrewriteは/で始まる必要があります")
	}
	if r.Service == "" {
		return fmt.Errorf("serviceが必要です")
	}

	params := pathParams(r.Path)
	if len(params) > 1 {
		return fmt.Errorf("パラメータは1つまでです")
	}
	if strings.Contains(r.Path, "*") {
		return fmt.Errorf("ワイルドカードは使えません")
	}
	for _, p := range pathParams(r.Rewrite) {
		if len(params) == 0 || p != params[0] {
			return fmt.Errorf("rewriteのパラメータ :%s がpathにありません", p)
		}
	}

	switch r.Body {
	case BodyNone, BodyJSON:
	case BodyTask:
		if !r.Auth {
			return fmt.Errorf("body: taskは認証が必要なルートでのみ使えます")
		}
	default:
		return fmt.Errorf("未対応のbody %q", r.Body)
	}
	return nil
}

// pathParams はパスパターン中の :param 名を返す。
func pathParams(pattern string) []string {
	var params []string
	for _, seg := range strings.Split(pattern, "/") {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			params = append(params, name)
		}
	}
	return params
}

// backendPath はrewriteテンプレートにパラメータ値を埋め込む。
func (r Route) backendPath(params gin.Params) string {
	segs := strings.Split(r.Rewrite, "/")
	for i, seg := range segs {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			segs[i] = params.ByName(name)
		}
	}
	return strings.Join(segs, "/")
}

// numericParams はすべてのパスパラメータが10進の数字だけで構成されているかを返す。
func numericParams(params gin.Params) bool {
	for _, p := range params {
		if p.Value == "" {
			return false
		}
		for _, ch := range p.Value {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	return true
}
