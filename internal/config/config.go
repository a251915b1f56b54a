package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Remote    RemoteConfig    `yaml:"remote"`
	Local     LocalConfig     `yaml:"local"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Recording RecordingConfig `yaml:"recording"`
	Preview   PreviewConfig   `yaml:"preview"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // シャットダウン待ち時間
}

// RemoteConfig はカメラ基板（リモートデバイス）への接続設定
type RemoteConfig struct {
	Host           string        `yaml:"host"`            // デバイスのアドレス
	User           string        `yaml:"user"`            // sshユーザー
	Dir            string        `yaml:"dir"`             // 録画ファイルを書き込むディレクトリ
	SSHPath        string        `yaml:"ssh_path"`        // sshコマンド
	SCPPath        string        `yaml:"scp_path"`        // scpコマンド
	CommandTimeout time.Duration `yaml:"command_timeout"` // 同期コマンドのタイムアウト
	Retries        uint          `yaml:"retries"`         // sshの一時的な失敗に対するリトライ回数
	RetryInterval  time.Duration `yaml:"retry_interval"`  // リトライ間隔
	KillGrace      time.Duration `yaml:"kill_grace"`      // SIGTERMからSIGKILLまでの猶予
}

// LocalConfig はローカル保存先の設定
type LocalConfig struct {
	DownloadDir string `yaml:"download_dir"` // 転送先ディレクトリ
	SenderPath  string `yaml:"sender_path"`  // 録画制御用のsenderバイナリ
}

// RecorderConfig はデバイス側録画プログラムの設定
type RecorderConfig struct {
	BinaryPath string `yaml:"binary_path"` // アップロードする録画プログラム
	Port       int    `yaml:"port"`        // 録画プログラムの待ち受けポート
	Width      int    `yaml:"width"`       // 画像幅
	Height     int    `yaml:"height"`      // 画像高さ
}

// TransferConfig は転送キューとワーカーの設定
type TransferConfig struct {
	Capacity            int           `yaml:"capacity"`             // キューに保持できる最大ジョブ数
	SaturationThreshold int           `yaml:"saturation_threshold"` // これを超えると飽和とみなす
	IdleInterval        time.Duration `yaml:"idle_interval"`        // アイドル時のポーリング間隔
	SettleDelay         time.Duration `yaml:"settle_delay"`         // コピー開始後の待ち時間
	VerifyInterval      time.Duration `yaml:"verify_interval"`      // サイズ確認の間隔
	MaxVerifyAttempts   int           `yaml:"max_verify_attempts"`  // サイズ確認の最大回数
	MaxStartAttempts    int           `yaml:"max_start_attempts"`   // 転送開始の最大試行回数
	FailedHistory       int           `yaml:"failed_history"`       // 保持する失敗ジョブ数
}

// RecordingConfig は録画IDの初期値
type RecordingConfig struct {
	UserID      int `yaml:"user_id"`
	AccessoryID int `yaml:"accessory_id"`
	ActionID    int `yaml:"action_id"`
}

// PreviewConfig はライブプレビューの設定
type PreviewConfig struct {
	Port        int           `yaml:"port"`         // デバイス側tcpserversinkのポート
	CSIPattern  string        `yaml:"csi_pattern"`  // video4linuxノードを探すためのパターン
	DialTimeout time.Duration `yaml:"dial_timeout"` // 接続タイムアウト
	MaxFPS      int           `yaml:"max_fps"`      // WebSocket配信の最大フレームレート
	RetryDelay  time.Duration `yaml:"retry_delay"`  // 切断後の再接続までの待ち時間
}

// SensorConfig はイメージセンサーのレジスタ調整の設定
type SensorConfig struct {
	SysfsDir string `yaml:"sysfs_dir"` // register_addr 等があるsysfsディレクトリ
	Register string `yaml:"register"`  // 既定で書き込むレジスタ
	Value    string `yaml:"value"`     // 既定で書き込む値
}

// LogConfig はログの設定
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
		},
		Remote: RemoteConfig{
			Host:           "192.168.1.2",
			User:           "root",
			Dir:            "/flash",
			SSHPath:        "ssh",
			SCPPath:        "scp",
			CommandTimeout: 30 * time.Second,
			Retries:        3,
			RetryInterval:  500 * time.Millisecond,
			KillGrace:      3 * time.Second,
		},
		Local: LocalConfig{
			DownloadDir: "./recordings",
			SenderPath:  "./sender",
		},
		Recorder: RecorderConfig{
			BinaryPath: "videoRecoder",
			Port:       8554,
			Width:      1280,
			Height:     800,
		},
		Transfer: TransferConfig{
			Capacity:            4,
			SaturationThreshold: 3,
			IdleInterval:        300 * time.Millisecond,
			SettleDelay:         2 * time.Second,
			VerifyInterval:      3 * time.Second,
			MaxVerifyAttempts:   200, // 約10分
			MaxStartAttempts:    5,
			FailedHistory:       20,
		},
		Recording: RecordingConfig{
			UserID:      1,
			AccessoryID: 1,
			ActionID:    1,
		},
		Preview: PreviewConfig{
			Port:        8554,
			CSIPattern:  "10217000.mipicsi",
			DialTimeout: 5 * time.Second,
			MaxFPS:      15,
			RetryDelay:  2 * time.Second,
		},
		Sensor: SensorConfig{
			SysfsDir: "/sys/devices/platform/11010000.i2c/i2c-3/3-0068",
			Register: "0x4300",
			Value:    "0x3a",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load は設定を読み込む
// デフォルト値 → 設定ファイル(CAMSYNC_CONFIG) → 環境変数 の順に上書きする
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CAMSYNC_CONFIG"))
}

// LoadFile は指定されたYAMLファイルを使って設定を読み込み、検証する
// pathが空の場合はファイルを読まない
func LoadFile(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Read はデフォルト値・YAMLファイル・環境変数を重ねた設定を返す
// 検証はしないので、呼び出し側で上書きした後にValidateを呼ぶこと。
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// mergeFile はYAMLファイルの内容を現在の設定に上書きする
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("SERVER_PORT", c.Server.Port)
	c.Remote.Host = getEnvOrDefault("REMOTE_HOST", c.Remote.Host)
	c.Remote.User = getEnvOrDefault("REMOTE_USER", c.Remote.User)
	c.Remote.Dir = getEnvOrDefault("REMOTE_DIR", c.Remote.Dir)
	c.Local.DownloadDir = getEnvOrDefault("DOWNLOAD_DIR", c.Local.DownloadDir)
	c.Local.SenderPath = getEnvOrDefault("SENDER_PATH", c.Local.SenderPath)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// サーバー設定の検証
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}

	// デバイス設定の検証
	if c.Remote.Host == "" {
		errs = append(errs, errors.New("remote.hostが設定されていません"))
	}
	if c.Remote.Dir == "" {
		errs = append(errs, errors.New("remote.dirが設定されていません"))
	}
	if c.Local.DownloadDir == "" {
		errs = append(errs, errors.New("local.download_dirが設定されていません"))
	}

	// 転送設定の検証
	t := c.Transfer
	if t.SaturationThreshold < 1 {
		errs = append(errs, fmt.Errorf("無効な飽和しきい値: %d", t.SaturationThreshold))
	}
	if t.Capacity <= t.SaturationThreshold {
		errs = append(errs, fmt.Errorf("キュー容量(%d)は飽和しきい値(%d)より大きくする必要があります", t.Capacity, t.SaturationThreshold))
	}
	if t.IdleInterval <= 0 || t.VerifyInterval <= 0 {
		errs = append(errs, errors.New("ポーリング間隔は正の値である必要があります"))
	}
	if t.MaxVerifyAttempts < 1 || t.MaxStartAttempts < 1 {
		errs = append(errs, errors.New("最大試行回数は1以上である必要があります"))
	}

	if c.Preview.Port < 1 || c.Preview.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なプレビューポート: %d", c.Preview.Port))
	}

	return errors.Join(errs...)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// PreviewAddress はデバイス側プレビューのアドレスを返す
func (c *Config) PreviewAddress() string {
	return fmt.Sprintf("%s:%d", c.Remote.Host, c.Preview.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
