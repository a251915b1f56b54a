package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestConfigLoad は設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	t.Setenv("CAMSYNC_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg == nil {
		t.Fatal("設定がnilです")
	}

	// サーバー設定の検証
	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}
	// WriteTimeout は 0（無効）でも正常
	if cfg.Server.WriteTimeout < 0 {
		t.Error("書き込みタイムアウトが負の値です")
	}

	// 転送設定のデフォルト値
	if cfg.Transfer.Capacity != 4 {
		t.Errorf("キュー容量: got %d, want 4", cfg.Transfer.Capacity)
	}
	if cfg.Transfer.SaturationThreshold != 3 {
		t.Errorf("飽和しきい値: got %d, want 3", cfg.Transfer.SaturationThreshold)
	}
	if cfg.Transfer.IdleInterval != 300*time.Millisecond {
		t.Errorf("アイドル間隔: got %v, want 300ms", cfg.Transfer.IdleInterval)
	}
	if cfg.Transfer.VerifyInterval != 3*time.Second {
		t.Errorf("確認間隔: got %v, want 3s", cfg.Transfer.VerifyInterval)
	}

	// 録画IDの初期値
	if cfg.Recording.UserID != 1 || cfg.Recording.AccessoryID != 1 || cfg.Recording.ActionID != 1 {
		t.Errorf("録画IDの初期値が(1,1,1)ではありません: %+v", cfg.Recording)
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(c *Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			mutate:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			mutate:    func(c *Config) { c.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "デバイスのホストなし",
			mutate:    func(c *Config) { c.Remote.Host = "" },
			expectErr: true,
		},
		{
			name:      "保存先なし",
			mutate:    func(c *Config) { c.Local.DownloadDir = "" },
			expectErr: true,
		},
		{
			name:      "容量がしきい値以下",
			mutate:    func(c *Config) { c.Transfer.Capacity = 3 },
			expectErr: true,
		},
		{
			name:      "確認間隔が0",
			mutate:    func(c *Config) { c.Transfer.VerifyInterval = 0 },
			expectErr: true,
		},
		{
			name:      "最大試行回数が0",
			mutate:    func(c *Config) { c.Transfer.MaxVerifyAttempts = 0 },
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestLoadFile はYAMLファイルによる上書きをテストする
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camsync.yaml")
	content := `
remote:
  host: 10.0.0.5
  dir: /data
transfer:
  verify_interval: 1s
  max_verify_attempts: 10
recording:
  user_id: 42
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("設定ファイルの作成に失敗: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Remote.Host != "10.0.0.5" {
		t.Errorf("remote.host: got %s, want 10.0.0.5", cfg.Remote.Host)
	}
	if cfg.Remote.Dir != "/data" {
		t.Errorf("remote.dir: got %s, want /data", cfg.Remote.Dir)
	}
	if cfg.Transfer.VerifyInterval != time.Second {
		t.Errorf("verify_interval: got %v, want 1s", cfg.Transfer.VerifyInterval)
	}
	if cfg.Transfer.MaxVerifyAttempts != 10 {
		t.Errorf("max_verify_attempts: got %d, want 10", cfg.Transfer.MaxVerifyAttempts)
	}
	if cfg.Recording.UserID != 42 {
		t.Errorf("user_id: got %d, want 42", cfg.Recording.UserID)
	}
	// ファイルにない項目はデフォルト値のまま
	if cfg.Transfer.Capacity != 4 {
		t.Errorf("capacity: got %d, want 4", cfg.Transfer.Capacity)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Error("存在しないファイルでエラーが期待されました")
	}
}

// TestRead_ValidatesAfterOverride はコマンドラインでの上書きを検証より先に適用できることをテストする
func TestRead_ValidatesAfterOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	path := filepath.Join(t.TempDir(), "camsync.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 70000\n"), 0o644); err != nil {
		t.Fatalf("設定ファイルの作成に失敗: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFileは不正なポートを拒否するはずです")
	}

	cfg, err := Read(path)
	if err != nil {
		t.Fatalf("Readは検証せずに読み込むはずです: %v", err)
	}
	if cfg.Server.Port != 70000 {
		t.Errorf("port: got %d, want 70000", cfg.Server.Port)
	}

	// -port での上書き相当
	cfg.Server.Port = 8081
	if err := cfg.Validate(); err != nil {
		t.Errorf("上書き後の設定は有効なはずです: %v", err)
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
// 注意: このテストは環境変数を変更するため、parallelは使わない
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("CAMSYNC_CONFIG", "")
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("REMOTE_HOST", "10.1.1.1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: got %s, want test.example.com", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: got %d, want 9999", cfg.Server.Port)
	}
	if cfg.Remote.Host != "10.1.1.1" {
		t.Errorf("環境変数のデバイスホストが反映されていません: got %s", cfg.Remote.Host)
	}
}
