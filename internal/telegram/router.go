package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/suspectuso/cloud-miner/internal/ledger"
	"github.com/suspectuso/cloud-miner/internal/metrics"
	"github.com/suspectuso/cloud-miner/internal/storage"
)

// EventKind tells what the user did
type EventKind string

const (
	EventCommand  EventKind = "command"
	EventCallback EventKind = "callback"
	EventText     EventKind = "text"
)

// Event is a transport independent user action
type Event struct {
	Kind    EventKind
	Command string   // without the leading slash, for EventCommand
	Args    []string // command arguments
	Data    string   // callback data
	Text    string   // free text
}

// Notification is a message for another user
type Notification struct {
	UserID int64
	Text   string
}

// Response is what the transport should render. Edit asks to replace the
// message the callback came from instead of sending a new one.
type Response struct {
	Text          string
	Keyboard      Keyboard
	Edit          bool
	Alert         string
	Notifications []Notification
}

// Services are the ledger operations the router drives
type Services struct {
	Directory   *ledger.Directory
	Settings    *ledger.Settings
	Withdrawals *ledger.Withdrawals
	Purchases   *ledger.Purchases
	Engine      *ledger.Engine
}

// Options tune listings and links
type Options struct {
	BotUsername  string
	PendingLimit int
	TopLimit     int
	HistoryLimit int
}

// Router maps events to ledger operations and responses
type Router struct {
	svc    Services
	opts   Options
	states *StateManager
	log    *slog.Logger
	now    func() time.Time
}

const (
	msgWelcome      = "👋 Добро пожаловать в облачный майнинг!\nВыбирай действие ниже."
	msgMainMenu     = "Главное меню. Выбирай действие ниже."
	msgAdminPanel   = "Админ-панель:"
	msgDenied       = "⛔ Недостаточно прав."
	msgInternal     = "❌ Что-то пошло не так. Попробуй позже."
	msgGrantFormat  = "Формат: @username 10  или  123456 10"
	msgNeedNumber   = "Сумма должна быть числом. Пришли ещё раз."
	msgNeedPositive = "Сумма должна быть больше нуля. Пришли ещё раз."
)

// NewRouter creates a router
func NewRouter(svc Services, opts Options, log *slog.Logger) *Router {
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = 10
	}
	if opts.TopLimit <= 0 {
		opts.TopLimit = 10
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	return &Router{
		svc:    svc,
		opts:   opts,
		states: NewStateManager(),
		log:    log,
		now:    time.Now,
	}
}

// States returns the conversation state manager
func (r *Router) States() *StateManager {
	return r.states
}

// Handle processes one event of a user. Events of the same user are handled
// one at a time.
func (r *Router) Handle(ctx context.Context, accountID int64, username string, ev Event) Response {
	unlock := r.states.Lock(accountID)
	defer unlock()

	metrics.RecordUpdate(string(ev.Kind))

	var referrer *int64
	if ev.Kind == EventCommand && ev.Command == "start" && len(ev.Args) > 0 {
		if id, err := strconv.ParseInt(ev.Args[0], 10, 64); err == nil && id > 0 && id != accountID {
			referrer = &id
		}
	}

	acc, err := r.svc.Directory.EnsureAccount(ctx, accountID, username, referrer)
	if err != nil {
		r.log.Error("ensure account", "user_id", accountID, "error", err)
		return Response{Text: msgInternal, Edit: ev.Kind == EventCallback}
	}

	switch ev.Kind {
	case EventCommand:
		return r.handleCommand(ctx, acc, ev)
	case EventCallback:
		return r.handleCallback(ctx, acc, ev.Data)
	case EventText:
		return r.handleText(ctx, acc, strings.TrimSpace(ev.Text))
	}
	return Response{}
}

// --- Commands ---

func (r *Router) handleCommand(ctx context.Context, acc *storage.Account, ev Event) Response {
	switch ev.Command {
	case "start":
		r.states.Clear(acc.ID)
		return Response{Text: msgWelcome, Keyboard: MainKeyboard()}
	case "confirm":
		return r.confirmInvoice(ctx, acc, ev.Args)
	case "admin":
		if !r.svc.Directory.IsOperator(ctx, acc.Username) {
			return Response{Text: msgDenied}
		}
		r.states.Clear(acc.ID)
		return Response{Text: msgAdminPanel, Keyboard: AdminKeyboard()}
	case "accrual":
		if !r.svc.Directory.IsOperator(ctx, acc.Username) {
			return Response{Text: msgDenied}
		}
		return Response{Text: r.runAccrual(ctx), Keyboard: AdminKeyboard()}
	}
	return Response{}
}

func (r *Router) confirmInvoice(ctx context.Context, acc *storage.Account, args []string) Response {
	if len(args) == 0 {
		return Response{Text: "Использование: /confirm <invoice_id>"}
	}
	invoiceID := args[0]

	inv, err := r.svc.Purchases.Invoice(ctx, invoiceID)
	if errors.Is(err, ledger.ErrNotFound) {
		return Response{Text: fmt.Sprintf("❌ Счёт %s не найден.", invoiceID)}
	}
	if err != nil {
		r.log.Error("get invoice", "invoice_id", invoiceID, "error", err)
		return Response{Text: msgInternal}
	}

	operator := r.svc.Directory.IsOperator(ctx, acc.Username)
	if inv.AccountID != acc.ID && !operator {
		return Response{Text: msgDenied}
	}

	inv, err = r.svc.Purchases.ConfirmInvoice(ctx, invoiceID)
	switch {
	case errors.Is(err, ledger.ErrAlreadyConfirmed):
		return Response{Text: fmt.Sprintf("ℹ️ Оплата %s уже подтверждена.", invoiceID)}
	case errors.Is(err, ledger.ErrNotFound):
		return Response{Text: fmt.Sprintf("❌ Счёт %s не найден.", invoiceID)}
	case err != nil:
		r.log.Error("confirm invoice", "invoice_id", invoiceID, "error", err)
		return Response{Text: msgInternal}
	}

	text := fmt.Sprintf("✅ Оплата %s подтверждена. Хешрейт +%s GH/s.", invoiceID, inv.Hashrate.String())
	resp := Response{Text: text, Keyboard: MainKeyboard()}
	if inv.AccountID != acc.ID {
		resp.Notifications = append(resp.Notifications, Notification{UserID: inv.AccountID, Text: text})
	}
	return resp
}

func (r *Router) runAccrual(ctx context.Context) string {
	res, err := r.svc.Engine.RunAccrualPass(ctx, r.now())
	if errors.Is(err, ledger.ErrPeriodAlreadyAccrued) {
		return "ℹ️ За текущий период начисление уже выполнено."
	}
	if err != nil {
		r.log.Error("manual accrual", "error", err)
		return "❌ Ошибка начисления."
	}
	return fmt.Sprintf("✅ Начисление выполнено: %d начислений на %s USDT.", res.Credited, res.Total.StringFixed(4))
}

// --- Callbacks ---

func (r *Router) handleCallback(ctx context.Context, acc *storage.Account, data string) Response {
	if strings.HasPrefix(data, cbAdminPrefix) {
		if !r.svc.Directory.IsOperator(ctx, acc.Username) {
			return Response{Text: "⛔ Нет прав.", Edit: true, Alert: "Нет прав"}
		}
		return r.handleAdminCallback(ctx, acc, data)
	}

	switch data {
	case cbBack:
		r.states.Clear(acc.ID)
		return Response{Text: msgMainMenu, Keyboard: MainKeyboard(), Edit: true}
	case cbBalance:
		wallet := acc.Wallet
		if wallet == "" {
			wallet = "не привязан"
		}
		text := fmt.Sprintf("💰 Баланс: %s USDT\n⚡ Хешрейт: %s GH/s\n💼 Кошелёк: %s",
			acc.Balance.StringFixed(2), acc.Hashrate.StringFixed(2), wallet)
		return Response{Text: text, Keyboard: MainKeyboard(), Edit: true}
	case cbBuy:
		return r.buyHashrate(ctx, acc)
	case cbInvite:
		text := fmt.Sprintf("🔗 Твоя реферальная ссылка:\nhttps://t.me/%s?start=%d", r.opts.BotUsername, acc.ID)
		return Response{Text: text, Keyboard: MainKeyboard(), Edit: true}
	case cbIncome:
		rate, err := r.svc.Settings.GetRate(ctx)
		if err != nil {
			r.log.Error("get rate", "error", err)
			return Response{Text: msgInternal, Edit: true}
		}
		text := fmt.Sprintf("📈 Текущая доходность: %s USDT на 1 GH/s в день.\nПри твоём хешрейте %s GH/s — это %s USDT/день.",
			rate.StringFixed(6), acc.Hashrate.StringFixed(2), acc.Hashrate.Mul(rate).StringFixed(4))
		return Response{Text: text, Keyboard: MainKeyboard(), Edit: true}
	case cbWallet:
		r.states.Set(acc.ID, StateAwaitingWallet)
		return Response{
			Text:     "Пришли адрес для вывода (поддерживаются ETH/BSC/Polygon: 0x..., TRC20: T..., TON: EQ..., Bitcoin, Solana: base58).",
			Keyboard: BackKeyboard(),
			Edit:     true,
		}
	case cbWithdraw:
		if !acc.HasWallet() {
			return Response{Text: "Сначала привяжи кошелёк: нажми «💼 Кошелёк».", Keyboard: MainKeyboard(), Edit: true}
		}
		r.states.Set(acc.ID, StateAwaitingWithdrawalAmount)
		text := fmt.Sprintf("Отправь сумму для вывода в USDT (числом). Баланс: %s USDT\nКошелёк: %s",
			acc.Balance.StringFixed(2), acc.Wallet)
		return Response{Text: text, Keyboard: BackKeyboard(), Edit: true}
	case cbHistory:
		return r.showHistory(ctx, acc)
	}

	r.log.Warn("unknown callback", "data", data, "user_id", acc.ID)
	return Response{}
}

func (r *Router) buyHashrate(ctx context.Context, acc *storage.Account) Response {
	inv, err := r.svc.Purchases.CreateInvoice(ctx, acc.ID)
	if err != nil {
		if !errors.Is(err, ledger.ErrExternalCollaborator) {
			r.log.Error("create invoice", "user_id", acc.ID, "error", err)
		}
		return Response{Text: "❌ Не удалось создать счёт. Попробуй позже.", Keyboard: MainKeyboard(), Edit: true}
	}

	text := fmt.Sprintf("🧾 Счёт создан: %s %s за %s GH/s.\nОплати по ссылке: %s\n\nПосле оплаты используй команду:\n/confirm %s",
		inv.Amount.String(), inv.Asset, inv.Hashrate.String(), inv.PayURL, inv.InvoiceID)
	return Response{Text: text, Keyboard: InvoiceKeyboard(inv.PayURL), Edit: true}
}

func (r *Router) showHistory(ctx context.Context, acc *storage.Account) Response {
	events, err := r.svc.Directory.History(ctx, acc.ID, r.opts.HistoryLimit)
	if err != nil {
		r.log.Error("accrual history", "user_id", acc.ID, "error", err)
		return Response{Text: msgInternal, Edit: true}
	}
	if len(events) == 0 {
		return Response{Text: "Начислений пока не было.", Keyboard: MainKeyboard(), Edit: true}
	}

	lines := []string{"🧾 Последние начисления:"}
	for _, e := range events {
		kind := "майнинг"
		if e.Kind == storage.AccrualReferral {
			kind = "реферал"
		}
		day := time.Unix(e.PeriodStart, 0).UTC().Format("2006-01-02")
		lines = append(lines, fmt.Sprintf("%s: +%s USDT (%s)", day, e.Amount.StringFixed(4), kind))
	}
	return Response{Text: strings.Join(lines, "\n"), Keyboard: MainKeyboard(), Edit: true}
}

func (r *Router) handleAdminCallback(ctx context.Context, acc *storage.Account, data string) Response {
	switch {
	case data == cbAdminBack:
		r.states.Clear(acc.ID)
		return Response{Text: msgAdminPanel, Keyboard: AdminKeyboard(), Edit: true}
	case data == cbAdminCount:
		n, err := r.svc.Directory.CountAccounts(ctx)
		if err != nil {
			r.log.Error("count accounts", "error", err)
			return Response{Text: msgInternal, Keyboard: AdminKeyboard(), Edit: true}
		}
		return Response{Text: fmt.Sprintf("👥 Пользователей: %d", n), Keyboard: AdminKeyboard(), Edit: true}
	case data == cbAdminTop:
		return r.showTop(ctx)
	case data == cbAdminSetRate:
		rate, err := r.svc.Settings.GetRate(ctx)
		if err != nil {
			r.log.Error("get rate", "error", err)
			return Response{Text: msgInternal, Keyboard: AdminKeyboard(), Edit: true}
		}
		r.states.Set(acc.ID, StateAwaitingRate)
		text := fmt.Sprintf("Текущая ставка: %s\nПришли сообщением новую ставку (USDT за 1 GH/s/день).", rate.StringFixed(6))
		return Response{Text: text, Edit: true}
	case data == cbAdminGive:
		r.states.Set(acc.ID, StateAwaitingGrant)
		return Response{Text: "Пришли в формате: @username 10  (или user_id 10)", Edit: true}
	case data == cbAdminAccrual:
		return Response{Text: r.runAccrual(ctx), Keyboard: AdminKeyboard(), Edit: true}
	case data == cbAdminPending:
		return r.showPending(ctx)
	case strings.HasPrefix(data, cbAdminApprove):
		return r.decide(ctx, strings.TrimPrefix(data, cbAdminApprove), true)
	case strings.HasPrefix(data, cbAdminReject):
		return r.decide(ctx, strings.TrimPrefix(data, cbAdminReject), false)
	}

	r.log.Warn("unknown admin callback", "data", data, "user_id", acc.ID)
	return Response{}
}

func (r *Router) showTop(ctx context.Context) Response {
	top, err := r.svc.Directory.TopByBalance(ctx, r.opts.TopLimit)
	if err != nil {
		r.log.Error("top by balance", "error", err)
		return Response{Text: msgInternal, Keyboard: AdminKeyboard(), Edit: true}
	}

	lines := []string{"🏆 Топ по балансу:"}
	for i, a := range top {
		shown := "(без ника)"
		if a.Username != "" {
			shown = "@" + a.Username
		}
		lines = append(lines, fmt.Sprintf("%d. %s — %s USDT", i+1, shown, a.Balance.StringFixed(2)))
	}
	return Response{Text: strings.Join(lines, "\n"), Keyboard: AdminKeyboard(), Edit: true}
}

func (r *Router) showPending(ctx context.Context) Response {
	list, err := r.svc.Withdrawals.ListPending(ctx, r.opts.PendingLimit)
	if err != nil {
		r.log.Error("list pending", "error", err)
		return Response{Text: msgInternal, Keyboard: AdminKeyboard(), Edit: true}
	}
	if len(list) == 0 {
		return Response{Text: "Нет ожидающих заявок.", Keyboard: AdminKeyboard(), Edit: true}
	}

	lines := []string{"💸 Ожидающие выводы:"}
	for _, w := range list {
		lines = append(lines, fmt.Sprintf("#%d: uid %d, %s USDT, %s", w.ID, w.AccountID, w.Amount.StringFixed(2), w.Address))
	}
	return Response{Text: strings.Join(lines, "\n"), Keyboard: PendingKeyboard(list), Edit: true}
}

func (r *Router) decide(ctx context.Context, rawID string, approve bool) Response {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Response{Text: "Заявка не найдена или уже обработана.", Keyboard: AdminKeyboard(), Edit: true}
	}

	w, err := r.svc.Withdrawals.DecideWithdrawal(ctx, id, approve)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return Response{Text: "Заявка не найдена или уже обработана.", Keyboard: AdminKeyboard(), Edit: true}
	case errors.Is(err, ledger.ErrValidation):
		text := fmt.Sprintf("⚠️ У пользователя недостаточно средств для заявки #%d. Заявка осталась в ожидании.", id)
		return Response{Text: text, Keyboard: AdminKeyboard(), Edit: true}
	case err != nil:
		r.log.Error("decide withdrawal", "withdrawal_id", id, "error", err)
		return Response{Text: msgInternal, Keyboard: AdminKeyboard(), Edit: true}
	}

	if approve {
		return Response{
			Text:     fmt.Sprintf("✅ Заявка #%d одобрена. Списано %s USDT.", w.ID, w.Amount.StringFixed(2)),
			Keyboard: AdminKeyboard(),
			Edit:     true,
			Notifications: []Notification{{
				UserID: w.AccountID,
				Text:   fmt.Sprintf("✅ Твоя заявка на вывод #%d одобрена: %s USDT на %s.", w.ID, w.Amount.StringFixed(2), w.Address),
			}},
		}
	}
	return Response{
		Text:     fmt.Sprintf("❌ Заявка #%d отклонена.", w.ID),
		Keyboard: AdminKeyboard(),
		Edit:     true,
		Notifications: []Notification{{
			UserID: w.AccountID,
			Text:   fmt.Sprintf("❌ Твоя заявка на вывод #%d отклонена. Баланс не изменён.", w.ID),
		}},
	}
}

// --- Free text ---

func (r *Router) handleText(ctx context.Context, acc *storage.Account, text string) Response {
	switch r.states.Get(acc.ID) {
	case StateAwaitingWallet:
		return r.bindWallet(ctx, acc, text)
	case StateAwaitingWithdrawalAmount:
		return r.requestWithdrawal(ctx, acc, text)
	case StateAwaitingRate:
		if !r.svc.Directory.IsOperator(ctx, acc.Username) {
			r.states.Clear(acc.ID)
			return Response{}
		}
		return r.setRate(ctx, acc, text)
	case StateAwaitingGrant:
		if !r.svc.Directory.IsOperator(ctx, acc.Username) {
			r.states.Clear(acc.ID)
			return Response{}
		}
		return r.grant(ctx, acc, text)
	}
	return Response{}
}

func (r *Router) bindWallet(ctx context.Context, acc *storage.Account, text string) Response {
	c, err := r.svc.Directory.BindWallet(ctx, acc.ID, text)
	if errors.Is(err, ledger.ErrValidation) {
		return Response{Text: "❌ Адрес не похож на поддерживаемый. Пример: 0x.. (EVM), T.. (TRC20), EQ.. (TON), bc1.. (Bitcoin), base58 (Solana). Пришли ещё раз."}
	}
	if err != nil {
		r.log.Error("bind wallet", "user_id", acc.ID, "error", err)
		return Response{Text: msgInternal}
	}

	r.states.Clear(acc.ID)
	return Response{Text: fmt.Sprintf("✅ Кошелёк сохранён (%s):\n%s", c.Chain, c.Address), Keyboard: MainKeyboard()}
}

func (r *Router) requestWithdrawal(ctx context.Context, acc *storage.Account, text string) Response {
	amount, err := ledger.ParseAmount(text)
	if err != nil {
		return Response{Text: msgNeedNumber}
	}

	w, err := r.svc.Withdrawals.RequestWithdrawal(ctx, acc.ID, amount)
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr) && verr.Field == "wallet":
		r.states.Clear(acc.ID)
		return Response{Text: "Сначала привяжи кошелёк: нажми «💼 Кошелёк».", Keyboard: MainKeyboard()}
	case errors.As(err, &verr):
		balance := acc.Balance
		if fresh, gerr := r.svc.Directory.GetAccount(ctx, acc.ID); gerr == nil && fresh != nil {
			balance = fresh.Balance
		}
		return Response{Text: fmt.Sprintf("Недостаточно средств или некорректная сумма. Баланс: %s USDT", balance.StringFixed(2))}
	case err != nil:
		r.log.Error("request withdrawal", "user_id", acc.ID, "error", err)
		return Response{Text: msgInternal}
	}

	r.states.Clear(acc.ID)
	text = fmt.Sprintf("✅ Заявка на вывод #%d на %s USDT создана. Админ обработает её вручную.", w.ID, w.Amount.StringFixed(2))
	return Response{Text: text, Keyboard: MainKeyboard()}
}

func (r *Router) setRate(ctx context.Context, acc *storage.Account, text string) Response {
	rate, err := ledger.ParseAmount(text)
	if err != nil {
		return Response{Text: "Не удалось разобрать число. Пришли ещё раз."}
	}
	if err := r.svc.Settings.SetRate(ctx, rate); err != nil {
		r.log.Error("set rate", "error", err)
		return Response{Text: msgInternal}
	}

	r.states.Clear(acc.ID)
	return Response{Text: fmt.Sprintf("✅ Ставка обновлена: %s", rate.StringFixed(6)), Keyboard: AdminKeyboard()}
}

func (r *Router) grant(ctx context.Context, acc *storage.Account, text string) Response {
	target, amount, err := ledger.ParseGrant(text)
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		if verr.Field == "amount" {
			return Response{Text: msgNeedNumber}
		}
		return Response{Text: msgGrantFormat}
	}

	updated, err := r.svc.Directory.GrantBalance(ctx, target, amount)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return Response{Text: "Пользователь не найден (должен написать боту хотя бы раз)."}
	case errors.As(err, &verr) && verr.Field == "amount":
		return Response{Text: msgNeedPositive}
	case errors.As(err, &verr):
		return Response{Text: msgGrantFormat}
	case err != nil:
		r.log.Error("grant balance", "target", target, "error", err)
		return Response{Text: msgInternal}
	}

	r.states.Clear(acc.ID)
	return Response{
		Text:     fmt.Sprintf("✅ Выдал %s USDT пользователю %s.", amount.String(), target),
		Keyboard: AdminKeyboard(),
		Notifications: []Notification{{
			UserID: updated.ID,
			Text:   fmt.Sprintf("💰 Тебе начислено %s USDT. Баланс: %s USDT", amount.String(), updated.Balance.StringFixed(2)),
		}},
	}
}
