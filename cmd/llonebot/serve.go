package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yanxingchangan/llonebot/auth"
	"github.com/yanxingchangan/llonebot/db"
	"github.com/yanxingchangan/llonebot/dispatch"
	"github.com/yanxingchangan/llonebot/imagestore"
	"github.com/yanxingchangan/llonebot/internal/logutil"
	"github.com/yanxingchangan/llonebot/internal/runtimeclock"
	"github.com/yanxingchangan/llonebot/llm"
	"github.com/yanxingchangan/llonebot/ratelimit"
	"github.com/yanxingchangan/llonebot/session"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			adminID := strings.TrimSpace(viper.GetString("bot.admin_id"))
			if adminID == "" {
				return fmt.Errorf("missing bot.admin_id (set via config or %s_BOT_ADMIN_ID)", envPrefix)
			}
			selfID := viper.GetInt64("bot.self_id")
			if selfID == 0 {
				return fmt.Errorf("missing bot.self_id (set via config or %s_BOT_SELF_ID)", envPrefix)
			}

			dbCfg := db.DefaultConfig()
			dbCfg.DSN = viper.GetString("db.dsn")
			gdb, err := db.Open(dbCfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}

			presets, fallback, err := session.LoadPresets(viper.GetString("bot.presets_file"))
			if err != nil {
				return fmt.Errorf("load presets: %w", err)
			}

			idleAfter := viper.GetDuration("ratelimit.idle_after")
			chatCfg := ratelimit.DefaultChatConfig()
			chatCfg.IdleAfter = idleAfter
			videoCfg := ratelimit.DefaultVideoConfig()
			videoCfg.IdleAfter = idleAfter

			sessions := session.NewManager(session.Config{
				IdleTimeout:   viper.GetDuration("session.idle_timeout"),
				Presets:       presets,
				DefaultPreset: fallback,
			})
			chatLimiter := ratelimit.NewLimiter(chatCfg, []string{adminID})
			videoLimiter := ratelimit.NewLimiter(videoCfg, nil)
			images := imagestore.NewStore(gdb, viper.GetFloat64("images.similarity_threshold"))

			client := llm.NewOpenAIClient(viper.GetString("llm.endpoint"), viper.GetString("llm.api_key"))
			if timeout := viper.GetDuration("llm.request_timeout"); timeout > 0 {
				client.HTTP.Timeout = timeout
			}

			var videos dispatch.VideoSource
			if ids := viper.GetStringSlice("videos.ids"); len(ids) > 0 {
				videos = dispatch.NewBilibiliSource(ids, viper.GetString("videos.cookie"))
			}

			dispatcher := dispatch.NewDispatcher(dispatch.Config{
				SelfID:        selfID,
				Model:         viper.GetString("llm.model"),
				Temperature:   viper.GetFloat64("llm.temperature"),
				MediaKeywords: viper.GetStringMapStringSlice("bot.media_keywords"),
			}, dispatch.Deps{
				Logger:       logger,
				Auth:         auth.NewManager(adminID),
				Sessions:     sessions,
				ChatLimiter:  chatLimiter,
				VideoLimiter: videoLimiter,
				Images:       images,
				LLM:          client,
				Responder:    dispatch.NewOneBotResponder(viper.GetString("bridge.api_url"), viper.GetString("bridge.access_token")),
				Fetcher:      dispatch.NewHTTPFetcher(),
				Videos:       videos,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go runSweeps(ctx, logger, viper.GetDuration("sweep.interval"), chatLimiter, videoLimiter, sessions)

			mux := http.NewServeMux()
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				meta := runtimeclock.WithRuntimeClockMeta(map[string]any{"status": "ok"}, time.Now())
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(meta)
			})
			mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/" {
					http.NotFound(w, r)
					return
				}
				ev, err := dispatch.DecodeEvent(r.Body)
				if err != nil {
					logger.Warn("webhook_decode_failed", "error", err)
					http.Error(w, "bad request", http.StatusBadRequest)
					return
				}
				// Acknowledge immediately; the bridge does not wait for
				// the reply.
				go dispatcher.Handle(context.Background(), ev)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			})

			handler := http.Handler(mux)
			if token := strings.TrimSpace(viper.GetString("server.auth_token")); token != "" {
				handler = requireBearer(token, mux)
			}

			addr := net.JoinHostPort(viper.GetString("server.bind"), strconv.Itoa(viper.GetInt("server.port")))
			server := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() { errCh <- server.ListenAndServe() }()
			logger.Info("server_start", "addr", addr, "admin_id", adminID)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				logger.Info("server_stop")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().String("server-bind", "", "Bind address (defaults to 0.0.0.0).")
	cmd.Flags().Int("server-port", 0, "Listen port (defaults to 8080).")
	cmd.Flags().String("server-auth-token", "", "Bearer token required on webhook deliveries (optional).")
	_ = viper.BindPFlag("server.bind", cmd.Flags().Lookup("server-bind"))
	_ = viper.BindPFlag("server.port", cmd.Flags().Lookup("server-port"))
	_ = viper.BindPFlag("server.auth_token", cmd.Flags().Lookup("server-auth-token"))

	return cmd
}

func requireBearer(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// runSweeps periodically reclaims idle per-user limiter buckets and
// expired sessions.
func runSweeps(ctx context.Context, logger *slog.Logger, interval time.Duration,
	chat, video *ratelimit.Limiter, sessions *session.Manager) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			chatSwept := chat.SweepIdle(now)
			videoSwept := video.SweepIdle(now)
			sessionsSwept := sessions.SweepExpired(now)
			if chatSwept+videoSwept+sessionsSwept > 0 {
				logger.Info("sweep_completed",
					"chat_limiters", chatSwept,
					"video_limiters", videoSwept,
					"sessions", sessionsSwept)
			}
		}
	}
}
