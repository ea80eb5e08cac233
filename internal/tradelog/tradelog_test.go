package tradelog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_WritesDailyIST(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)
	// 20:00 UTC is already the next day in IST
	j.now = func() time.Time { return time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC) }

	require.NoError(t, j.Append(Entry{Kind: KindProtection, Domain: "shoonya", Message: "max daily loss"}))
	require.NoError(t, j.Append(Entry{Kind: KindOrder, Domain: "shoonya", Message: "COMPLETE"}))

	f, err := os.Open(filepath.Join(dir, "journal", "2026-03-03.txt"))
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-03-03 01:30:00", entries[0].Time)
	assert.Equal(t, KindProtection, entries[0].Kind)
	assert.Equal(t, "COMPLETE", entries[1].Message)
}

func TestCompressOlder(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)
	require.NoError(t, j.Append(Entry{Kind: KindNotification, Message: "old"}))

	p := j.dailyFilepath(time.Now())
	old := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(p, old, old))

	require.NoError(t, j.CompressOlder(7))

	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(p + ".gz")
	assert.NoError(t, err)
}

func TestCompressOlder_DisabledOrMissingDir(t *testing.T) {
	j := New(filepath.Join(t.TempDir(), "absent"))
	assert.NoError(t, j.CompressOlder(0))
	assert.NoError(t, j.CompressOlder(3))
}
