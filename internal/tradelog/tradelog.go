// Package tradelog keeps a JSON-lines journal, one file per IST day, of
// notifications, order events and protective actions.
package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var ist = time.FixedZone("IST", 19800)

// Entry kinds.
const (
	KindNotification = "notification"
	KindOrder        = "order"
	KindProtection   = "protection"
)

type Entry struct {
	Time    string         `json:"time"`
	Kind    string         `json:"kind"`
	Domain  string         `json:"domain,omitempty"`
	Level   string         `json:"level,omitempty"`
	Message string         `json:"message"`
	Extra   map[string]any `json:"extra,omitempty"`
}

type Journal struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func New(dir string) *Journal {
	if dir == "" {
		dir = "logs"
	}
	return &Journal{dir: dir, now: time.Now}
}

func (j *Journal) dailyFilepath(t time.Time) string {
	return filepath.Join(j.dir, "journal", t.In(ist).Format("2006-01-02")+".txt")
}

// Append writes e to today's file, stamping the time.
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now().In(ist)
	e.Time = now.Format("2006-01-02 15:04:05")
	p := j.dailyFilepath(now)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips journal files untouched for retentionDays.
func (j *Journal) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := j.now().AddDate(0, 0, -retentionDays)
	root := filepath.Join(j.dir, "journal")

	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".txt" {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		// an earlier run already compressed it
		if _, err := os.Stat(gz); err == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err == nil {
			_ = os.Remove(p)
		}
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	_, copyErr := io.Copy(gw, in)
	closeErr := gw.Close()
	fileErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dst)
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	return fileErr
}
