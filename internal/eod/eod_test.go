package eod

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradedesk/internal/tradelog"
	"tradedesk/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradingDate(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"morning utc is same ist day", time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC), "2026-03-02"},
		{"late utc evening is next ist day", time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC), "2026-03-03"},
		{"ist midnight", time.Date(2026, 3, 3, 0, 0, 0, 0, IST), "2026-03-03"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TradingDate(tt.in))
		})
	}
}

func TestShouldRollOver(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, IST)
	assert.True(t, ShouldRollOver("", now))
	assert.True(t, ShouldRollOver("2026-03-01", now))
	assert.False(t, ShouldRollOver("2026-03-02", now))
}

func writeJournal(t *testing.T, dir string, day time.Time, entries ...tradelog.Entry) {
	t.Helper()
	j := tradelog.New(dir)
	for _, e := range entries {
		require.NoError(t, j.Append(e))
	}
	// Append stamps today's date; move the file to the requested day.
	src := filepath.Join(dir, "journal", TradingDate(time.Now())+".txt")
	dst := filepath.Join(dir, "journal", TradingDate(day)+".txt")
	if src != dst {
		require.NoError(t, os.Rename(src, dst))
	}
}

func TestSummarizeDay(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 3, 2, 16, 0, 0, 0, IST)
	writeJournal(t, dir, day,
		tradelog.Entry{Kind: tradelog.KindOrder, Domain: "shoonya", Level: types.OrderComplete},
		tradelog.Entry{Kind: tradelog.KindOrder, Domain: "shoonya", Level: types.OrderRejected},
		tradelog.Entry{Kind: tradelog.KindOrder, Domain: "kite", Level: types.OrderComplete},
		tradelog.Entry{Kind: tradelog.KindProtection, Domain: "shoonya"},
		tradelog.Entry{Kind: tradelog.KindNotification, Level: string(types.LevelError)},
		tradelog.Entry{Kind: tradelog.KindNotification, Level: string(types.LevelInfo)},
	)

	s := NewSummarizer(dir)
	path, err := s.SummarizeDay(day)
	require.NoError(t, err)
	require.NotEmpty(t, path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"domain", "orders_complete", "orders_rejected", "orders_cancelled", "protections", "errors"},
		{"app", "0", "0", "0", "0", "1"},
		{"kite", "1", "0", "0", "0", "0"},
		{"shoonya", "1", "1", "0", "1", "0"},
		{"TOTAL", "2", "1", "0", "1", "1"},
	}, rows)

	run, _ := s.ShouldRunNow(day)
	assert.False(t, run, "csv already written")
}

func TestSummarizeDay_NoJournal(t *testing.T) {
	s := NewSummarizer(t.TempDir())
	path, err := s.SummarizeDay(time.Now())
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestShouldRunNow(t *testing.T) {
	s := NewSummarizer(t.TempDir())

	run, _ := s.ShouldRunNow(time.Date(2026, 3, 2, 15, 0, 0, 0, IST))
	assert.False(t, run)

	run, path := s.ShouldRunNow(time.Date(2026, 3, 2, 15, 45, 0, 0, IST))
	assert.True(t, run)
	assert.Equal(t, "2026-03-02.csv", filepath.Base(path))
}
