package bot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/core"
	"github.com/web3guy0/spreadbot/execution"
	"github.com/web3guy0/spreadbot/storage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Spread notifications & session status
// ═══════════════════════════════════════════════════════════════════════════════
//
// Pushes:
//   📈 Spread entries (legs, fills, net debit)
//   ✅ Spread exits with realized P&L
//   🏁 Session summary on shutdown
//
// Commands (authorized chat only):
//   /status /positions /trades /pnl /reset /ping /help
//
// Commands read LiveTrader.Status(), never the position book directly.
//
// ═══════════════════════════════════════════════════════════════════════════════

// StatusProvider reports the live session
type StatusProvider interface {
	Status() core.LiveStatus
}

// TradeHistory reads the trade journal
type TradeHistory interface {
	RecentSpreads(limit int) ([]storage.SpreadTrade, error)
	SessionPnL() (decimal.Decimal, error)
}

// BreakerControl lets /reset re-arm a tripped circuit breaker
type BreakerControl interface {
	IsTripped() bool
	ForceReset()
}

// TelegramBot sends trade notifications and answers status commands
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	status  StatusProvider
	history TradeHistory
	breaker BreakerControl
}

// NewTelegramBot connects to the Bot API
func NewTelegramBot(token string, chatID int64) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")

	return &TelegramBot{
		api:    api,
		chatID: chatID,
		stopCh: make(chan struct{}),
	}, nil
}

// SetStatusProvider wires /status and /positions
func (b *TelegramBot) SetStatusProvider(p StatusProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = p
}

// SetHistory wires /trades and /pnl
func (b *TelegramBot) SetHistory(h TradeHistory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = h
}

// SetBreaker wires /reset
func (b *TelegramBot) SetBreaker(c BreakerControl) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.breaker = c
}

// Start begins listening for commands
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the command loop
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
	b.api.StopReceivingUpdates()
	log.Info().Msg("Telegram bot stopped")
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// NotifyStartup announces the session
func (b *TelegramBot) NotifyStartup(mode, underlying string, spreadWidth decimal.Decimal) {
	b.sendMarkdown(formatStartup(mode, underlying, spreadWidth))
}

// NotifyEntry announces an opened spread
func (b *TelegramBot) NotifyEntry(pos *execution.SpreadPosition) {
	b.sendMarkdown(formatEntry(pos))
}

// NotifyExit announces a closed spread
func (b *TelegramBot) NotifyExit(pos *execution.SpreadPosition, pnl decimal.Decimal) {
	b.sendMarkdown(formatExit(pos, pnl))
}

// NotifySummary sends the end-of-session summary
func (b *TelegramBot) NotifySummary(stats execution.Stats) {
	b.sendMarkdown(formatSummary(stats))
}

// NotifyError sends an error alert
func (b *TelegramBot) NotifyError(err error) {
	b.sendMarkdown(fmt.Sprintf("⚠️ *ERROR*\n\n`%s`", err.Error()))
}

func formatStartup(mode, underlying string, spreadWidth decimal.Decimal) string {
	return fmt.Sprintf(`🚀 *SPREADBOT STARTED*
━━━━━━━━━━━━━━━━━━━━

🎯 Strategy: *Bull Call Spread*
📊 Mode: *%s*
🏦 Underlying: *%s*
📏 Width: *%s*

Use /help for commands`, mode, underlying, spreadWidth.String())
}

func formatEntry(pos *execution.SpreadPosition) string {
	return fmt.Sprintf(`📈 *SPREAD OPENED*

🆔 `+"`%s`"+`
🟢 Buy: `+"`%s`"+` @ *%s*
🔴 Sell: `+"`%s`"+` @ *%s*
━━━━━━━━━━━━━━━━
💵 Net debit: *%s*
📦 Qty: *%d × %d*
💸 Brokerage: *%s*`,
		pos.ID,
		pos.LongSymbol, pos.LongPrice.StringFixed(2),
		pos.ShortSymbol, pos.ShortPrice.StringFixed(2),
		pos.NetDebit().StringFixed(2),
		pos.Quantity, pos.LotSize,
		core.FormatCurrency(pos.Brokerage),
	)
}

func formatExit(pos *execution.SpreadPosition, pnl decimal.Decimal) string {
	emoji := "✅"
	if pnl.IsNegative() {
		emoji = "🛑"
	}
	return fmt.Sprintf(`%s *SPREAD CLOSED*

🆔 `+"`%s`"+`
🟢 Long exit: *%s* (entry %s)
🔴 Short exit: *%s* (entry %s)
━━━━━━━━━━━━━━━━
💵 P&L: *%s*`,
		emoji,
		pos.ID,
		pos.ExitLongPrice.StringFixed(2), pos.LongPrice.StringFixed(2),
		pos.ExitShortPrice.StringFixed(2), pos.ShortPrice.StringFixed(2),
		signed(pnl),
	)
}

func formatSummary(stats execution.Stats) string {
	emoji := "📈"
	if stats.TotalPnL.IsNegative() {
		emoji = "📉"
	}
	return fmt.Sprintf(`%s *SESSION SUMMARY*
━━━━━━━━━━━━━━━━━━━━

📊 Trades: *%d*
✅ Wins: *%d*
❌ Losses: *%d*
📈 Win Rate: *%s*

━━━━━━━━━━━━━━━━━━━━
💵 Total P&L: *%s*
📐 Avg P&L: *%s*`,
		emoji,
		stats.TotalTrades, stats.WinningTrades, stats.LosingTrades,
		core.FormatPercent(stats.WinRate),
		signed(stats.TotalPnL),
		signed(stats.AvgPnL),
	)
}

func formatStatus(st core.LiveStatus) string {
	market := "🔴 CLOSED"
	if st.MarketOpen {
		market = "🟢 OPEN"
	}
	checked := "never"
	if !st.CheckedAt.IsZero() {
		checked = st.CheckedAt.Format("15:04:05")
	}
	return fmt.Sprintf(`📊 *BOT STATUS*
━━━━━━━━━━━━━━━━━━━━

📊 Mode: *%s*
🏦 Underlying: *%s*
🕐 Market: *%s*
⏱️ Last check: *%s*
💼 Open spreads: *%d*
📈 MTM: *%s*
💵 Realized: *%s* (%d trades)
🛡️ Breaker: *%s*`,
		st.Mode, st.Underlying, market, checked,
		len(st.Open),
		signed(st.Unrealized),
		signed(st.Stats.TotalPnL), st.Stats.TotalTrades,
		formatGate(st.Gate),
	)
}

func formatGate(g *core.GateStatus) string {
	switch {
	case g == nil:
		return "off"
	case g.Tripped:
		return fmt.Sprintf("TRIPPED (%s)", g.Reason)
	default:
		return fmt.Sprintf("armed, %d losses in a row", g.ConsecutiveLosses)
	}
}

func formatPositions(open []execution.SpreadPosition) string {
	if len(open) == 0 {
		return "💼 No open spreads"
	}
	var sb strings.Builder
	sb.WriteString("💼 *OPEN SPREADS*\n")
	for _, pos := range open {
		held := ""
		if !pos.EntryTime.IsZero() {
			held = " since " + pos.EntryTime.Format("15:04")
		}
		fmt.Fprintf(&sb, "\n`%s`%s\n  %s @ %s / %s\n  %s @ %s / %s\n  MTM: *%s*\n",
			pos.ID, held,
			pos.LongSymbol, pos.LongPrice.StringFixed(2), pos.MarkLong.StringFixed(2),
			pos.ShortSymbol, pos.ShortPrice.StringFixed(2), pos.MarkShort.StringFixed(2),
			signed(pos.UnrealizedPnL()),
		)
	}
	return sb.String()
}

func formatTrades(trades []storage.SpreadTrade) string {
	if len(trades) == 0 {
		return "📜 No trades yet"
	}
	var sb strings.Builder
	sb.WriteString("📜 *RECENT TRADES*\n")
	for _, t := range trades {
		emoji := "✅"
		if t.PnL.IsNegative() {
			emoji = "❌"
		}
		fmt.Fprintf(&sb, "\n%s %s %s → %s  *%s*",
			emoji, t.ExitedAt.Format("02 Jan"),
			t.LongSymbol, t.ShortSymbol, signed(t.PnL))
	}
	return sb.String()
}

func signed(amount decimal.Decimal) string {
	if amount.IsPositive() {
		return "+" + core.FormatCurrency(amount)
	}
	return core.FormatCurrency(amount)
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != b.chatID {
				continue
			}
			b.sendMarkdown(b.reply(update.Message.Command()))
		}
	}
}

func (b *TelegramBot) reply(command string) string {
	b.mu.RLock()
	status, history, breaker := b.status, b.history, b.breaker
	b.mu.RUnlock()

	switch strings.ToLower(command) {
	case "start", "help":
		return helpText
	case "status":
		if status == nil {
			return "📊 Status not available"
		}
		return formatStatus(status.Status())
	case "positions":
		if status == nil {
			return "💼 Positions not available"
		}
		return formatPositions(status.Status().Open)
	case "trades":
		if history == nil {
			return "📜 Journal disabled"
		}
		trades, err := history.RecentSpreads(10)
		if err != nil {
			log.Error().Err(err).Msg("Failed to read trades")
			return "⚠️ Failed to read trades"
		}
		return formatTrades(trades)
	case "pnl":
		if history == nil {
			return "📜 Journal disabled"
		}
		pnl, err := history.SessionPnL()
		if err != nil {
			log.Error().Err(err).Msg("Failed to read session P&L")
			return "⚠️ Failed to read P&L"
		}
		return fmt.Sprintf("💵 Session P&L: *%s*", signed(pnl))
	case "reset":
		if breaker == nil {
			return "🛡️ Circuit breaker not enabled"
		}
		if !breaker.IsTripped() {
			return "🛡️ Circuit breaker is not tripped"
		}
		breaker.ForceReset()
		log.Warn().Msg("Circuit breaker reset from Telegram")
		return "🛡️ Circuit breaker reset, entries allowed"
	case "ping":
		return "🏓 Pong! " + time.Now().Format("15:04:05")
	default:
		return "❓ Unknown command. Use /help"
	}
}

const helpText = `🤖 *SPREADBOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Session status
💼 /positions — Open spreads with MTM
📜 /trades — Last 10 closed spreads
💵 /pnl — Session realized P&L
🛡️ /reset — Re-arm a tripped circuit breaker
🏓 /ping — Test connection`

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
