package log

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNew_LevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf, Service: "test"})

	l.Info().Msg("表示されない")
	if buf.Len() != 0 {
		t.Fatalf("infoレベルは出力されないはず: %s", buf.String())
	}

	l.Warn().Str(FieldJobID, "abc").Msg("警告")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("JSONの解析に失敗: %v", err)
	}
	if entry[FieldService] != "test" {
		t.Errorf("service = %v, want test", entry[FieldService])
	}
	if entry[FieldJobID] != "abc" {
		t.Errorf("job_id = %v, want abc", entry[FieldJobID])
	}
	if entry["level"] != "warn" {
		t.Errorf("level = %v, want warn", entry["level"])
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "nonsense", Output: &buf})

	l.Debug().Msg("debug")
	l.Info().Msg("info")

	if bytes.Count(buf.Bytes(), []byte("\n")) != 1 {
		t.Errorf("infoのみ出力されるはず: %q", buf.String())
	}
}
