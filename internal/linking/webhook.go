package linking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vector-10/compound-safe/internal/alerting"
	"github.com/vector-10/compound-safe/internal/storage"
)

var walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Options parameterise the linking webhook server.
type Options struct {
	ListenAddr      string
	BotUsername     string
	ShutdownTimeout time.Duration
}

// Server terminates the inbound Telegram webhook and maintains the
// wallet -> chat bindings. The endpoint is effectively public, so every
// unrelated update is acknowledged with 200 and otherwise ignored.
type Server struct {
	opts     Options
	store    storage.SubscriberStore
	notifier alerting.Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

// NewServer constructs the linking server.
func NewServer(opts Options, store storage.SubscriberStore, notifier alerting.Notifier, logger zerolog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		opts:     opts,
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("component", "linking").Logger(),
		now:      time.Now,
	}
}

// Handler exposes the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /telegram/webhook", s.handleWebhook)
	mux.HandleFunc("GET /link-status", s.handleLinkStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Run serves until ctx is cancelled, then drains with the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	s.logger.Info().Str("addr", s.opts.ListenAddr).Msg("linking webhook listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type telegramUpdate struct {
	Message *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	// Telegram retries on non-200, so the webhook always acknowledges; all
	// user feedback travels through the bot chat instead.
	defer writeOK(w)

	var update telegramUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.logger.Debug().Err(err).Msg("discarding undecodable webhook payload")
		return
	}
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
	text := strings.TrimSpace(update.Message.Text)

	switch {
	case text == "/start":
		s.reply(r.Context(), chatID, s.instructions())
	case strings.HasPrefix(text, "/start "):
		s.handleLink(r.Context(), chatID, strings.TrimSpace(strings.TrimPrefix(text, "/start ")))
	default:
		// Shared endpoint; unrelated chatter is not an error.
	}
}

func (s *Server) handleLink(ctx context.Context, chatID, wallet string) {
	if !walletPattern.MatchString(wallet) {
		s.logger.Debug().Str("chat_id", chatID).Str("payload", wallet).Msg("rejecting malformed link request")
		s.reply(ctx, chatID, "❌ Invalid wallet address. Please use the link from the CompoundSafe app.")
		return
	}

	sub := storage.Subscriber{
		WalletAddress: wallet,
		ChatID:        chatID,
		LinkedAt:      s.now().UTC(),
	}
	if err := s.store.UpsertSubscriber(ctx, sub); err != nil {
		s.logger.Error().Err(err).Str("wallet", wallet).Msg("failed to persist link")
		s.reply(ctx, chatID, "❌ Failed to link wallet. Please try again.")
		return
	}

	s.logger.Info().Str("wallet", wallet).Str("chat_id", chatID).Msg("wallet linked")
	s.reply(ctx, chatID, fmt.Sprintf(`🔗 *Alerts Linked Successfully!*

Your wallet `+"`%s`"+` is now connected to CompoundSafe alerts.

You'll receive notifications when:
- Position health drops to 50%% (Warning)
- Position health drops to 20%% (Critical)
- Position health drops to 5%% (Emergency)

Stay safe! 🛡️`, alerting.ShortAddress(wallet)))
}

func (s *Server) instructions() string {
	return fmt.Sprintf(`👋 Welcome to CompoundSafe Bot!

To get started:
1. Open the CompoundSafe app
2. Go to the Risk Monitor page
3. Click "Open in Telegram" (https://t.me/%s?start=<your wallet>) to link your wallet

This will enable real-time liquidation alerts for your Compound positions.`, s.opts.BotUsername)
}

func (s *Server) handleLinkStatus(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")

	type status struct {
		Linked   bool       `json:"linked"`
		LinkedAt *time.Time `json:"linkedAt,omitempty"`
	}

	resp := status{}
	if walletPattern.MatchString(wallet) {
		sub, ok, err := s.store.GetSubscriber(r.Context(), wallet)
		if err != nil {
			s.logger.Error().Err(err).Str("wallet", wallet).Msg("link status lookup failed")
		} else if ok {
			resp.Linked = true
			linkedAt := sub.LinkedAt
			resp.LinkedAt = &linkedAt
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) reply(ctx context.Context, chatID, text string) {
	if s.notifier == nil {
		s.logger.Debug().Str("chat_id", chatID).Msg("no notifier configured; dropping bot reply")
		return
	}
	if err := s.notifier.Send(ctx, chatID, text); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to deliver bot reply")
	}
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}
