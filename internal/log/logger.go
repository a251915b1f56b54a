// Package log はzerologを使った構造化ログの共通設定を提供する
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config はロガーの設定
type Config struct {
	Level   string    // ログレベル ("debug", "info" など)
	Output  io.Writer // 出力先 (デフォルト: os.Stdout)
	Service string    // 全エントリに付与するサービス名
}

var (
	once sync.Once
	base zerolog.Logger
)

// Configure はグローバルロガーを一度だけ初期化する
func Configure(cfg Config) {
	once.Do(func() {
		base = build(cfg)
	})
}

// New は設定からロガーを作成する（グローバル状態には触れない）
func New(cfg Config) zerolog.Logger {
	return build(cfg)
}

func build(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	} else if env := os.Getenv("LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}

	service := cfg.Service
	if service == "" {
		service = "camsync"
	}

	return zerolog.New(writer).Level(level).With().
		Timestamp().
		Str(FieldService, service).
		Logger()
}

func logger() zerolog.Logger {
	Configure(Config{})
	return base
}

// WithComponent はコンポーネント名付きの子ロガーを返す
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str(FieldComponent, component).Logger()
}

// Nop は何も出力しないロガー（テスト用）
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
