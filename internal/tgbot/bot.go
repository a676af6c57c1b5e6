package tgbot

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tgauth/internal/types"
)

const (
	welcomeNew      = "Добро пожаловать! 👋"
	welcomeBack     = "С возвращением! 🎉"
	unavailableText = "Сервис временно недоступен, попробуйте позже."
)

// Upserter is the part of auth.Resolver the bot needs.
type Upserter interface {
	Upsert(ctx context.Context, id types.Identity, now time.Time) (types.UserRecord, bool, error)
}

type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

type Bot struct {
	api       botAPI
	users     Upserter
	webappURL string
	log       *zap.Logger
	now       func() time.Time
}

// New connects to the Bot API with token.
func New(token, webappURL string, users Upserter, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = false
	log.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return newBot(api, webappURL, users, log), nil
}

func newBot(api botAPI, webappURL string, users Upserter, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{
		api:       api,
		users:     users,
		webappURL: strings.TrimRight(webappURL, "/"),
		log:       log,
		now:       time.Now,
	}
}

// Run long-polls updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, upd)
		}
	}
}

// HandleUpdate processes a single update; only /start is handled.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil || !msg.IsCommand() {
		return
	}
	if msg.Command() != "start" {
		return
	}
	if err := b.onStart(ctx, msg); err != nil {
		b.log.Warn("start reply failed", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
	}
}

func (b *Bot) onStart(ctx context.Context, msg *tgbotapi.Message) error {
	_, isNew, err := b.users.Upsert(ctx, identityFromUser(msg.From), b.now())
	if err != nil {
		b.log.Error("bot start upsert failed", zap.Int64("telegram_id", msg.From.ID), zap.Error(err))
		return b.sendMessage(msg.Chat.ID, unavailableText, "")
	}
	b.log.Info("bot start", zap.Int64("telegram_id", msg.From.ID), zap.Bool("is_new_user", isNew))
	return b.sendMessage(msg.Chat.ID, welcomeText(isNew), b.keyboardJSON())
}

func identityFromUser(u *tgbotapi.User) types.Identity {
	return types.Identity{
		ExternalID:   u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Username:     u.UserName,
		LanguageCode: u.LanguageCode,
		IsBot:        u.IsBot,
	}
}

func welcomeText(isNew bool) string {
	if isNew {
		return welcomeNew
	}
	return welcomeBack
}

type webAppInfo struct {
	URL string `json:"url"`
}

type inlineButton struct {
	Text   string      `json:"text"`
	WebApp *webAppInfo `json:"web_app,omitempty"`
}

type inlineMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

// keyboardJSON is empty when no Mini App URL is configured.
func (b *Bot) keyboardJSON() string {
	if b.webappURL == "" {
		return ""
	}
	rows := [][]inlineButton{
		{{Text: "🚀 Открыть приложение", WebApp: &webAppInfo{URL: b.webappURL}}},
	}
	bts, err := json.Marshal(inlineMarkup{InlineKeyboard: rows})
	if err != nil {
		return ""
	}
	return string(bts)
}

func (b *Bot) sendMessage(chatID int64, text string, replyMarkup string) error {
	params := tgbotapi.Params{
		"chat_id": strconv.FormatInt(chatID, 10),
		"text":    text,
	}
	if replyMarkup != "" {
		params["reply_markup"] = replyMarkup
	}
	_, err := b.api.MakeRequest("sendMessage", params)
	return err
}
