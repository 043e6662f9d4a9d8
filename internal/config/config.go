package config

import (
    "errors"
    "fmt"
    "io/fs"
    "log/slog"
    "strings"
    "time"

    "github.com/joho/godotenv"
    "github.com/spf13/viper"
)

type Config struct {
    DatabaseURL string
    AuthToken   string
    Port        string
    AdminID     int64

    SignupBonus    int64
    ReferralBonus  int64
    TaskReward     int64
    DailyTaskLimit int
    MinWithdraw    int64

    ConversationTTL time.Duration

    RedisAddr     string
    RedisPassword string
    RedisDB       int

    BotToken string
    LogLevel slog.Level
}

// Load reads the given .env files (".env" when none are named) and then the
// environment. Variables already set in the environment win over the files.
// Missing files are not an error.
func Load(envFiles ...string) (Config, error) {
    if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
        return Config{}, fmt.Errorf("load env file: %w", err)
    }

    v := viper.New()
    v.AutomaticEnv()
    v.SetDefault("DB_HOST", "localhost")
    v.SetDefault("DB_PORT", "5432")
    v.SetDefault("DB_SSLMODE", "disable")
    v.SetDefault("PORT", "8080")
    v.SetDefault("REF_BONUS", 10)
    v.SetDefault("SIGNUP_BONUS", 50)
    v.SetDefault("TASK_REWARD", 5)
    v.SetDefault("DAILY_TASK_LIMIT", 30)
    v.SetDefault("MIN_WITHDRAW", 200)
    v.SetDefault("CONVERSATION_TTL", "0s")
    v.SetDefault("REDIS_DB", 0)
    v.SetDefault("LOG_LEVEL", "info")

    dbURL, err := databaseURL(v)
    if err != nil {
        return Config{}, err
    }

    cfg := Config{
        DatabaseURL:     dbURL,
        AuthToken:       str(v, "AUTH_TOKEN"),
        Port:            str(v, "PORT"),
        AdminID:         v.GetInt64("ADMIN_ID"),
        SignupBonus:     v.GetInt64("SIGNUP_BONUS"),
        ReferralBonus:   v.GetInt64("REF_BONUS"),
        TaskReward:      v.GetInt64("TASK_REWARD"),
        DailyTaskLimit:  v.GetInt("DAILY_TASK_LIMIT"),
        MinWithdraw:     v.GetInt64("MIN_WITHDRAW"),
        ConversationTTL: v.GetDuration("CONVERSATION_TTL"),
        RedisAddr:       str(v, "REDIS_ADDR"),
        RedisPassword:   v.GetString("REDIS_PASSWORD"),
        RedisDB:         v.GetInt("REDIS_DB"),
        BotToken:        str(v, "BOT_TOKEN"),
    }

    if err := cfg.LogLevel.UnmarshalText([]byte(str(v, "LOG_LEVEL"))); err != nil {
        return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
    }
    if err := cfg.validate(); err != nil {
        return Config{}, err
    }
    return cfg, nil
}

func databaseURL(v *viper.Viper) (string, error) {
    if u := str(v, "DATABASE_URL"); u != "" {
        return u, nil
    }
    user := str(v, "DB_USER")
    password := str(v, "DB_PASSWORD")
    name := str(v, "DB_NAME")
    if user == "" || password == "" || name == "" {
        return "", errors.New("DATABASE_URL or DB_USER/DB_PASSWORD/DB_NAME are required")
    }
    return fmt.Sprintf(
        "host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
        str(v, "DB_HOST"),
        str(v, "DB_PORT"),
        user,
        password,
        name,
        str(v, "DB_SSLMODE"),
    ), nil
}

func (c Config) validate() error {
    switch {
    case c.AuthToken == "":
        return errors.New("AUTH_TOKEN is required")
    case c.AdminID <= 0:
        return errors.New("ADMIN_ID must be a positive account id")
    case c.SignupBonus < 0, c.ReferralBonus < 0, c.TaskReward < 0:
        return errors.New("SIGNUP_BONUS, REF_BONUS and TASK_REWARD must not be negative")
    case c.DailyTaskLimit <= 0:
        return errors.New("DAILY_TASK_LIMIT must be positive")
    case c.MinWithdraw <= 0:
        return errors.New("MIN_WITHDRAW must be positive")
    case c.ConversationTTL < 0:
        return errors.New("CONVERSATION_TTL must not be negative")
    }
    return nil
}

func str(v *viper.Viper, key string) string {
    return strings.TrimSpace(v.GetString(key))
}
