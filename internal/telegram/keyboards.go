package telegram

import (
	"fmt"

	"github.com/go-telegram/bot/models"
	"github.com/suspectuso/cloud-miner/internal/storage"
)

// Button is one inline keyboard button. Exactly one of Data and URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Keyboard is a list of button rows
type Keyboard [][]Button

// Callback data
const (
	cbBalance  = "balance"
	cbBuy      = "buy_hashrate"
	cbInvite   = "invite"
	cbIncome   = "income_info"
	cbWallet   = "wallet"
	cbWithdraw = "withdraw"
	cbHistory  = "history"
	cbBack     = "back"

	cbAdminCount   = "adm_users_count"
	cbAdminTop     = "adm_top"
	cbAdminSetRate = "adm_set_rate"
	cbAdminGive    = "adm_give"
	cbAdminPending = "adm_withdrawals"
	cbAdminAccrual = "adm_accrual_now"
	cbAdminBack    = "adm_back"
	cbAdminApprove = "adm_w_ok:"
	cbAdminReject  = "adm_w_rej:"
	cbAdminPrefix  = "adm_"
)

// MainKeyboard returns the main menu keyboard
func MainKeyboard() Keyboard {
	return Keyboard{
		{
			{Text: "💰 Баланс", Data: cbBalance},
			{Text: "⚡ Купить хешрейт", Data: cbBuy},
		},
		{
			{Text: "👥 Пригласить друга", Data: cbInvite},
			{Text: "📈 Доход", Data: cbIncome},
		},
		{
			{Text: "💼 Кошелёк", Data: cbWallet},
			{Text: "💸 Вывод", Data: cbWithdraw},
		},
		{
			{Text: "🧾 История начислений", Data: cbHistory},
		},
	}
}

// BackKeyboard returns a simple back button
func BackKeyboard() Keyboard {
	return Keyboard{
		{
			{Text: "⬅️ Назад", Data: cbBack},
		},
	}
}

// InvoiceKeyboard returns the payment link and a way back
func InvoiceKeyboard(payURL string) Keyboard {
	return Keyboard{
		{
			{Text: "💳 Оплатить", URL: payURL},
		},
		{
			{Text: "⬅️ Главное меню", Data: cbBack},
		},
	}
}

// AdminKeyboard returns the operator panel
func AdminKeyboard() Keyboard {
	return Keyboard{
		{
			{Text: "👥 Пользователи", Data: cbAdminCount},
			{Text: "🏆 ТОП баланса", Data: cbAdminTop},
		},
		{
			{Text: "⚙️ Ставка дохода", Data: cbAdminSetRate},
			{Text: "➕ Выдать баланс", Data: cbAdminGive},
		},
		{
			{Text: "💸 Выводы (pending)", Data: cbAdminPending},
			{Text: "🚀 Начислить сейчас", Data: cbAdminAccrual},
		},
	}
}

// PendingKeyboard returns approve/reject buttons for each pending request
func PendingKeyboard(list []storage.Withdrawal) Keyboard {
	var rows Keyboard
	for _, w := range list {
		rows = append(rows, []Button{
			{Text: fmt.Sprintf("✅ #%d", w.ID), Data: fmt.Sprintf("%s%d", cbAdminApprove, w.ID)},
			{Text: fmt.Sprintf("❌ #%d", w.ID), Data: fmt.Sprintf("%s%d", cbAdminReject, w.ID)},
		})
	}
	rows = append(rows, []Button{
		{Text: "⟵ Назад", Data: cbAdminBack},
	})
	return rows
}

// markup converts a keyboard to the Telegram wire type
func markup(k Keyboard) *models.InlineKeyboardMarkup {
	if k == nil {
		return nil
	}
	rows := make([][]models.InlineKeyboardButton, 0, len(k))
	for _, row := range k {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, models.InlineKeyboardButton{
				Text:         b.Text,
				CallbackData: b.Data,
				URL:          b.URL,
			})
		}
		rows = append(rows, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
