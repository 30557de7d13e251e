package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/digkill/aicollect/internal/line"
	"github.com/digkill/aicollect/internal/models"
)

// ContentCatalog is the fixed menu of addable content items, in menu order.
var ContentCatalog = []string{
	"AI予定秘書",
	"AI経理秘書",
	"AIタスクコンシェルジュ",
}

// Postback payloads for the confirm flows.
const (
	postbackConfirmAddPrefix    = "confirm_add_"
	postbackAbortAdd            = "abort_add"
	postbackConfirmCancelPrefix = "confirm_cancel_"
	postbackAbortCancel         = "abort_cancel"
	postbackConfirmCancelSub    = "confirm_cancel_sub"
)

func welcomeMessages() []line.Message {
	text := "AIコレクションズへようこそ!\n" +
		"ご登録ありがとうございます。\n\n" +
		"最初のコンテンツは月額基本料金に含まれます。\n" +
		"「メニュー」と送信すると操作一覧を表示します。"
	return []line.Message{
		line.NewTextMessage(text),
		menuMessage(),
	}
}

func menuMessage() line.Message {
	return line.NewButtonsMessage(
		"メニュー",
		"AIコレクションズ",
		"ご希望の操作を選択してください。",
		line.MessageAction("コンテンツ追加", "追加"),
		line.MessageAction("利用状況の確認", "状態"),
		line.MessageAction("解約メニュー", "解約"),
		line.MessageAction("ヘルプ", "ヘルプ"),
	)
}

func helpMessage(basePrice, unitPrice int) line.Message {
	text := fmt.Sprintf(
		"【使い方】\n"+
			"・「追加」: コンテンツを追加します(1つ目は無料、2つ目以降は月額%s円)\n"+
			"・「状態」: ご契約状況を確認します\n"+
			"・「解約」: 解約メニューを表示します\n"+
			"・「メニュー」: 操作一覧を表示します\n\n"+
			"月額基本料金: %s円(税込)",
		formatYen(unitPrice), formatYen(basePrice))
	return line.NewTextMessage(text)
}

func addSelectMessage(unitPrice int) line.Message {
	var b strings.Builder
	b.WriteString("追加するコンテンツを番号で選択してください。\n\n")
	for i, label := range ContentCatalog {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, label))
	}
	b.WriteString(fmt.Sprintf("\n※1つ目は無料、2つ目以降は月額%s円です。", formatYen(unitPrice)))
	return line.NewTextMessage(b.String())
}

func addConfirmMessage(selection int, label string, free bool, amountMinor int, trialing bool) line.Message {
	var price string
	switch {
	case free:
		price = "無料(月額基本料金に含まれます)"
	case trialing:
		price = fmt.Sprintf("月額%s円(トライアル終了後に請求されます)", formatYen(amountMinor))
	default:
		price = fmt.Sprintf("月額%s円", formatYen(amountMinor))
	}
	text := fmt.Sprintf("「%s」を追加しますか?\n料金: %s", label, price)
	return line.NewButtonsMessage(
		"追加の確認",
		"追加の確認",
		text,
		line.PostbackAction("追加する", fmt.Sprintf("%s%d", postbackConfirmAddPrefix, selection)),
		line.PostbackAction("やめる", postbackAbortAdd),
	)
}

func addedMessage(label string, free, deferred, reactivated bool) line.Message {
	var b strings.Builder
	if reactivated {
		b.WriteString(fmt.Sprintf("「%s」を再開しました。\n", label))
	} else {
		b.WriteString(fmt.Sprintf("「%s」を追加しました。\n", label))
	}
	switch {
	case free:
		b.WriteString("こちらは月額基本料金に含まれます。")
	case deferred:
		b.WriteString("料金はトライアル終了後の初回請求に合算されます。")
	default:
		b.WriteString("料金は次回の請求に反映されます。")
	}
	return line.NewTextMessage(b.String())
}

func cancelMenuMessage() line.Message {
	return line.NewButtonsMessage(
		"解約メニュー",
		"解約メニュー",
		"解約の種類を選択してください。",
		line.MessageAction("コンテンツのみ解約", "コンテンツ解約"),
		line.MessageAction("サブスクリプション全体を解約", "サブスクリプション解約"),
		line.MessageAction("戻る", "メニュー"),
	)
}

func cancelSelectMessage(entries []models.UsageLogEntry) line.Message {
	var b strings.Builder
	b.WriteString("解約するコンテンツを番号で選択してください。\n\n")
	for i, entry := range entries {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, entry.ContentLabel))
	}
	return line.NewTextMessage(b.String())
}

func cancelConfirmMessage(selection int, label string) line.Message {
	return line.NewButtonsMessage(
		"解約の確認",
		"解約の確認",
		fmt.Sprintf("「%s」を解約しますか?", label),
		line.PostbackAction("解約する", fmt.Sprintf("%s%d", postbackConfirmCancelPrefix, selection)),
		line.PostbackAction("やめる", postbackAbortCancel),
	)
}

func subscriptionCancelConfirmMessage() line.Message {
	return line.NewButtonsMessage(
		"サブスクリプション解約の確認",
		"サブスクリプション解約",
		"サブスクリプション全体を解約しますか?\nご契約は現在の請求期間の終了時まで有効です。",
		line.PostbackAction("解約する", postbackConfirmCancelSub),
		line.PostbackAction("やめる", postbackAbortCancel),
	)
}

func notRegisteredMessage() line.Message {
	return line.NewTextMessage(
		"ご契約が確認できませんでした。\n" +
			"お申し込み時のメールアドレスでのご登録完了後、再度お試しください。")
}

func subscriptionInactiveMessage() line.Message {
	return line.NewTextMessage(
		"現在ご利用可能なサブスクリプションがありません。\n" +
			"お支払い状況をご確認ください。")
}

func statusMessage(company *models.Company, entries []models.UsageLogEntry, basePrice, unitPrice, total int) line.Message {
	var b strings.Builder
	b.WriteString("【ご契約状況】\n")
	b.WriteString(fmt.Sprintf("ステータス: %s\n", statusLabel(company.Status)))
	if company.TrialEnd != nil && time.Now().Before(*company.TrialEnd) {
		days := int(time.Until(*company.TrialEnd).Hours()/24) + 1
		b.WriteString(fmt.Sprintf("無料トライアル: 残り%d日\n", days))
	}
	b.WriteString(fmt.Sprintf("\nご利用中のコンテンツ: %d件\n", len(entries)))
	for i, entry := range entries {
		suffix := ""
		switch {
		case entry.IsFree:
			suffix = "(無料)"
		case entry.PendingCharge:
			suffix = "(トライアル終了後に請求)"
		}
		b.WriteString(fmt.Sprintf("%d. %s%s\n", i+1, entry.ContentLabel, suffix))
	}
	b.WriteString(fmt.Sprintf("\n月額基本料金: %s円\n", formatYen(basePrice)))
	b.WriteString(fmt.Sprintf("月額合計: %s円(税込)", formatYen(total)))
	return line.NewTextMessage(b.String())
}

func statusLabel(status string) string {
	switch status {
	case models.StatusActive:
		return "ご利用中"
	case models.StatusTrialing:
		return "無料トライアル中"
	case models.StatusCanceled:
		return "解約済み"
	case models.StatusPastDue:
		return "お支払いの確認中"
	default:
		return status
	}
}

// formatYen renders a JPY minor-unit amount with thousands separators.
// JPY has no decimal places, so minor units are whole yen.
func formatYen(amount int) string {
	s := fmt.Sprintf("%d", amount)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
