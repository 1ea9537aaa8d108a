// Package telegram implements bot.Adapter over the Telegram Bot API. Updates
// arrive on an HTTP webhook served by gin; outbound traffic goes through the
// regular Bot API client.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"

	"github.com/muradov/gpsmaster/internal/bot"
)

// Adapter is the production Telegram implementation of bot.Adapter.
type Adapter struct {
	token       string
	addr        string
	webhookPath string
	webhookURL  string
	out         io.Writer
	logger      *log.Logger

	api    *tgbotapi.BotAPI
	server *http.Server
	events chan bot.Inbound
}

// Opts configures the Telegram adapter. Token and Addr are required;
// WebhookURL, when set, is registered with Telegram on Connect.
type Opts struct {
	Token       string
	Addr        string // listen address for the webhook server, e.g. ":8080"
	WebhookPath string
	WebhookURL  string // public URL Telegram posts updates to, optional
	Out         io.Writer
}

// New validates opts and creates an Adapter.
func New(opts Opts) (*Adapter, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("telegram: adapter requires a bot token")
	}
	if opts.Addr == "" {
		return nil, fmt.Errorf("telegram: adapter requires a listen address")
	}
	if opts.WebhookPath == "" {
		opts.WebhookPath = "/telegram/webhook"
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Adapter{
		token:       opts.Token,
		addr:        opts.Addr,
		webhookPath: opts.WebhookPath,
		webhookURL:  opts.WebhookURL,
		out:         opts.Out,
		logger:      log.New(opts.Out, "telegram: ", log.LstdFlags),
		events:      make(chan bot.Inbound, 100),
	}, nil
}

// Connect authenticates against the Bot API and registers the webhook when a
// public URL is configured.
func (a *Adapter) Connect(ctx context.Context) error {
	api, err := tgbotapi.NewBotAPI(a.token)
	if err != nil {
		return fmt.Errorf("telegram: connect: %w", err)
	}
	a.api = api
	a.logger.Printf("connected as @%s", api.Self.UserName)

	if a.webhookURL != "" {
		wh, err := tgbotapi.NewWebhook(a.webhookURL + a.webhookPath)
		if err != nil {
			return fmt.Errorf("telegram: build webhook: %w", err)
		}
		if _, err := api.Request(wh); err != nil {
			return fmt.Errorf("telegram: register webhook: %w", err)
		}
	}
	return nil
}

// Listen starts the webhook server and returns the inbound event channel.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.Inbound, error) {
	if a.api == nil {
		return nil, fmt.Errorf("telegram: not connected")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST(a.webhookPath, func(c *gin.Context) {
		var update tgbotapi.Update
		if err := c.ShouldBindJSON(&update); err != nil {
			a.logger.Printf("bad update payload: %v", err)
			c.Status(http.StatusBadRequest)
			return
		}
		if ev, ok := translate(update); ok {
			select {
			case a.events <- ev:
			case <-ctx.Done():
			}
		}
		c.Status(http.StatusOK)
	})
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	a.server = &http.Server{Addr: a.addr, Handler: router}
	go func() {
		a.logger.Printf("webhook server listening on %s", a.addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Printf("webhook server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		close(a.events)
	}()

	return a.events, nil
}

// translate maps a Telegram update onto the adapter-neutral event. Updates
// with no routable content are dropped.
func translate(update tgbotapi.Update) (bot.Inbound, bool) {
	ev := bot.Inbound{Sequence: strconv.Itoa(update.UpdateID)}

	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message == nil {
			return ev, false
		}
		ev.ChatID = cb.Message.Chat.ID
		ev.UserID = cb.From.ID
		ev.UserName = displayName(cb.From)
		ev.CallbackID = cb.ID
		ev.CallbackData = cb.Data
		ev.MessageID = cb.Message.MessageID
		return ev, true

	case update.Message != nil:
		m := update.Message
		ev.ChatID = m.Chat.ID
		ev.MessageID = m.MessageID
		if m.From != nil {
			ev.UserID = m.From.ID
			ev.UserName = displayName(m.From)
		}
		ev.Text = m.Text
		if len(m.Photo) > 0 {
			// Telegram sends several resolutions; the last is the largest.
			ev.PhotoFileID = m.Photo[len(m.Photo)-1].FileID
		}
		if ev.Text == "" && ev.PhotoFileID == "" {
			return ev, false
		}
		return ev, true
	}
	return ev, false
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return u.UserName
	}
	return u.FirstName
}

// Send delivers one outbound message: a text (optionally with an inline
// keyboard), an in-place edit, or a document upload.
func (a *Adapter) Send(ctx context.Context, msg bot.Outbound) error {
	if a.api == nil {
		return fmt.Errorf("telegram: not connected")
	}

	if msg.Document != nil {
		doc := tgbotapi.NewDocument(msg.ChatID, tgbotapi.FileBytes{
			Name:  msg.Document.Name,
			Bytes: msg.Document.Bytes,
		})
		if _, err := a.api.Send(doc); err != nil {
			return fmt.Errorf("telegram: send document to %d: %w", msg.ChatID, err)
		}
		return nil
	}

	if msg.EditMessageID != 0 {
		edit := tgbotapi.NewEditMessageText(msg.ChatID, msg.EditMessageID, msg.Text)
		if len(msg.Keyboard) > 0 {
			markup := keyboardMarkup(msg.Keyboard)
			edit.ReplyMarkup = &markup
		}
		if _, err := a.api.Send(edit); err != nil {
			return fmt.Errorf("telegram: edit message %d in %d: %w", msg.EditMessageID, msg.ChatID, err)
		}
		return nil
	}

	out := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	if len(msg.Keyboard) > 0 {
		out.ReplyMarkup = keyboardMarkup(msg.Keyboard)
	}
	if _, err := a.api.Send(out); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", msg.ChatID, err)
	}
	return nil
}

func keyboardMarkup(rows [][]bot.Button) tgbotapi.InlineKeyboardMarkup {
	var kb [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		kb = append(kb, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}

// AckCallback answers a callback query so the client drops its spinner.
func (a *Adapter) AckCallback(ctx context.Context, callbackID string) error {
	if a.api == nil {
		return fmt.Errorf("telegram: not connected")
	}
	if _, err := a.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("telegram: ack callback: %w", err)
	}
	return nil
}

// Close shuts down the webhook server.
func (a *Adapter) Close() error {
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("telegram: shutdown webhook server: %w", err)
	}
	return nil
}
