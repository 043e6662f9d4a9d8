package notify

import (
    "context"
    "fmt"

    tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

    "moneytree/internal/ledger"
    "moneytree/internal/store"
)

type Sender interface {
    Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends the admin an approve/reject keyboard for each new request
// and tells the account owner how their request was decided. Account ids are
// Telegram user ids, so they double as private chat ids.
type Telegram struct {
    bot         Sender
    adminChatID int64
}

func NewTelegram(bot Sender, adminChatID int64) *Telegram {
    return &Telegram{bot: bot, adminChatID: adminChatID}
}

func (t *Telegram) WithdrawalRequested(ctx context.Context, w store.Withdrawal, actions ledger.AdminActions) error {
    msg := tgbotapi.NewMessage(t.adminChatID, fmt.Sprintf(
        "New withdrawal request #%d\nUser: %d\nAmount: %d\nMethod: %s\nAccount: %s",
        w.ID, w.AccountID, w.Amount, w.Method, w.PayoutAccount,
    ))
    msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
        tgbotapi.NewInlineKeyboardRow(
            tgbotapi.NewInlineKeyboardButtonData("Approve", actions.Approve),
            tgbotapi.NewInlineKeyboardButtonData("Reject", actions.Reject),
        ),
    )
    return t.send(ctx, msg)
}

func (t *Telegram) WithdrawalDecided(ctx context.Context, w store.Withdrawal) error {
    var text string
    switch w.Status {
    case store.StatusApproved:
        text = fmt.Sprintf("Your withdrawal #%d of %d via %s has been approved.", w.ID, w.Amount, w.Method)
    case store.StatusRejected:
        text = fmt.Sprintf("Your withdrawal #%d was rejected. %d has been returned to your balance.", w.ID, w.Amount)
    default:
        return fmt.Errorf("withdrawal %d is not decided: %s", w.ID, w.Status)
    }
    return t.send(ctx, tgbotapi.NewMessage(w.AccountID, text))
}

// send gives up early when ctx is already done. tgbotapi has no context
// support, so an in-flight request runs to its client timeout.
func (t *Telegram) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
    if err := ctx.Err(); err != nil {
        return err
    }
    if _, err := t.bot.Send(msg); err != nil {
        return fmt.Errorf("telegram send to %d: %w", msg.ChatID, err)
    }
    return nil
}
