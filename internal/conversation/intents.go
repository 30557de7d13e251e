package conversation

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Intent is the top-level command recognized in a chat message. Commands are
// checked before the per-user step so a user can always bail out of a flow.
type Intent int

const (
	IntentNone Intent = iota
	IntentAdd
	IntentStatus
	IntentCancelMenu
	IntentCancelSubscription
	IntentCancelContent
	IntentMenu
	IntentHelp
)

// Classify maps free text onto a command intent. Matching is exact after
// NFKC normalization and whitespace trimming; longer compound commands are
// checked before their prefixes.
func Classify(text string) Intent {
	t := strings.TrimSpace(norm.NFKC.String(text))
	switch t {
	case "サブスクリプション解約", "サブスク解約":
		return IntentCancelSubscription
	case "コンテンツ解約":
		return IntentCancelContent
	case "解約", "キャンセル":
		return IntentCancelMenu
	case "追加", "コンテンツ追加":
		return IntentAdd
	case "状態", "ステータス", "確認":
		return IntentStatus
	case "メニュー", "menu", "Menu":
		return IntentMenu
	case "ヘルプ", "help", "Help", "使い方":
		return IntentHelp
	}
	return IntentNone
}
