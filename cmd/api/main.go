package main

import (
    "context"
    "errors"
    "log/slog"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/gin-gonic/gin"
    tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/redis/go-redis/v9"
    "golang.org/x/sync/errgroup"

    "moneytree/internal/api"
    "moneytree/internal/config"
    "moneytree/internal/conversation"
    "moneytree/internal/ledger"
    "moneytree/internal/notify"
    "moneytree/internal/store"
)

func main() {
    cfg, err := config.Load()
    if err != nil {
        slog.Error("config error", "error", err)
        os.Exit(1)
    }

    logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
    slog.SetDefault(logger)

    if err := run(cfg, logger); err != nil {
        logger.Error("server error", "error", err)
        os.Exit(1)
    }
}

func run(cfg config.Config, logger *slog.Logger) error {
    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
    if err != nil {
        return err
    }
    defer pool.Close()

    st := store.New(pool)
    migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
    err = st.Migrate(migrateCtx)
    cancel()
    if err != nil {
        return err
    }

    conversations, closeConversations, err := openConversations(ctx, cfg, logger)
    if err != nil {
        return err
    }
    defer closeConversations()

    notifier, err := openNotifier(cfg, logger)
    if err != nil {
        return err
    }

    svc := ledger.NewService(st, conversations, ledger.SingleAdmin(cfg.AdminID), ledger.Config{
        SignupBonus:    cfg.SignupBonus,
        ReferralBonus:  cfg.ReferralBonus,
        TaskReward:     cfg.TaskReward,
        DailyTaskLimit: cfg.DailyTaskLimit,
        MinWithdraw:    cfg.MinWithdraw,
    }, ledger.WithNotifier(notifier), ledger.WithLogger(logger))

    gin.SetMode(gin.ReleaseMode)
    httpServer := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           api.NewServer(svc, cfg.AuthToken, logger).Routes(),
        ReadHeaderTimeout: 5 * time.Second,
    }

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        logger.Info("listening", "addr", httpServer.Addr)
        if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            return err
        }
        return nil
    })
    g.Go(func() error {
        <-gctx.Done()
        shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        return httpServer.Shutdown(shutdownCtx)
    })
    return g.Wait()
}

func openConversations(ctx context.Context, cfg config.Config, logger *slog.Logger) (conversation.Store, func(), error) {
    if cfg.RedisAddr == "" {
        logger.Info("conversation store", "backend", "memory", "ttl", cfg.ConversationTTL.String())
        return conversation.NewMemoryStore(cfg.ConversationTTL), func() {}, nil
    }

    client := redis.NewClient(&redis.Options{
        Addr:     cfg.RedisAddr,
        Password: cfg.RedisPassword,
        DB:       cfg.RedisDB,
    })
    pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := client.Ping(pingCtx).Err(); err != nil {
        _ = client.Close()
        return nil, nil, err
    }
    logger.Info("conversation store", "backend", "redis", "addr", cfg.RedisAddr, "ttl", cfg.ConversationTTL.String())
    return conversation.NewRedisStore(client, cfg.ConversationTTL), func() { _ = client.Close() }, nil
}

func openNotifier(cfg config.Config, logger *slog.Logger) (ledger.Notifier, error) {
    if cfg.BotToken == "" {
        return notify.NewLog(logger), nil
    }
    bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
    if err != nil {
        return nil, err
    }
    logger.Info("telegram notifier", "bot", bot.Self.UserName)
    return notify.NewTelegram(bot, cfg.AdminID), nil
}
