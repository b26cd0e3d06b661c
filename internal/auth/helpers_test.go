package auth

import (
	"io"
	"log/slog"
	"testing"
)

// setTestLogger はテスト中のみグローバルロガーをwへ差し替える。
func setTestLogger(t *testing.T, w io.Writer) {
	t.Helper()
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
}
