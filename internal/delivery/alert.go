package delivery

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Alerter notifies operators about delivery problems.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

type messageSender interface {
	Send(chattable tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter posts alerts to a Telegram chat.
type TelegramAlerter struct {
	bot    messageSender
	chatID int64
}

// NewTelegramAlerter authenticates the bot token and targets chatID.
func NewTelegramAlerter(token string, chatID int64) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramAlerter{bot: bot, chatID: chatID}, nil
}

func (alerter *TelegramAlerter) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := alerter.bot.Send(tgbotapi.NewMessage(alerter.chatID, text))
	return err
}

// AlertingSender wraps a CodeSender and raises an operator alert when delivery fails.
// Alerts carry the masked phone number and attempt id only.
type AlertingSender struct {
	next    ledger.CodeSender
	alerter Alerter
	logger  *zap.Logger
}

// NewAlertingSender decorates next. A nil alerter disables alerts.
func NewAlertingSender(next ledger.CodeSender, alerter Alerter, logger *zap.Logger) *AlertingSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertingSender{next: next, alerter: alerter, logger: logger}
}

func (sender *AlertingSender) SendCode(ctx context.Context, delivery ledger.CodeDelivery) error {
	err := sender.next.SendCode(ctx, delivery)
	if err == nil || sender.alerter == nil {
		return err
	}
	text := fmt.Sprintf("visitpay: code delivery failed for attempt %s to %s via %s: %v",
		delivery.AttemptID.String(), delivery.PhoneNumber.Masked(), delivery.Method.String(), err)
	if alertErr := sender.alerter.Alert(ctx, text); alertErr != nil {
		sender.logger.Warn("delivery alert failed", zap.String("attempt_id", delivery.AttemptID.String()), zap.Error(alertErr))
	}
	return err
}
