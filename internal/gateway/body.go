package gateway

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/tidwall/gjson"
)

// errInvalidJSON はボディがJSONとして解釈できないことを表す。
var errInvalidJSON = errors.New("request body is not valid JSON")

// maxRequestBytes はバックエンドへ転送するリクエストボディの上限。
const maxRequestBytes = 1 << 20

// fieldAssignedTo はタスクの担当者フィールド名。
const fieldAssignedTo = "assigned_to"

// taskBody はタスク作成ボディ。担当者以外のフィールドは解釈せずそのまま保持する。
type taskBody map[string]json.RawMessage

// prepareBody はルートのBodyKindに従ってバックエンドへ送るボディを作る。
// BodyNoneではnilを返す。subjectIDは認証済みの呼び出し元ID。
func prepareBody(kind BodyKind, raw []byte, subjectID int64) ([]byte, error) {
	switch kind {
	case BodyJSON:
		if !gjson.ValidBytes(raw) {
			return nil, errInvalidJSON
		}
		return raw, nil
	case BodyTask:
		return prepareTaskBody(raw, subjectID)
	default:
		return nil, nil
	}
}

// prepareTaskBody はタスク作成ボディを検証し、assigned_toが無ければ呼び出し元のIDを補う。
func prepareTaskBody(raw []byte, subjectID int64) ([]byte, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, errInvalidJSON
	}
	if gjson.GetBytes(raw, fieldAssignedTo).Exists() {
		return raw, nil
	}

	var body taskBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errInvalidJSON
	}
	body[fieldAssignedTo] = json.RawMessage(strconv.FormatInt(subjectID, 10))

	out, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return out, nil
}
