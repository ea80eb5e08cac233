package eod

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"tradedesk/internal/tradelog"
	"tradedesk/internal/types"
)

// Summarizer turns a day's journal into a per-domain CSV.
type Summarizer interface {
	SummarizeDay(t time.Time) (csvPath string, err error)
	ShouldRunNow(now time.Time) (shouldRun bool, csvPath string)
}

type aggRow struct {
	Domain      string
	Complete    int
	Rejected    int
	Cancelled   int
	Protections int
	Errors      int
}

type journalSummarizer struct {
	dir string
}

var _ Summarizer = (*journalSummarizer)(nil)

// NewSummarizer reads journals under dir, the tradelog directory.
func NewSummarizer(dir string) Summarizer {
	if dir == "" {
		dir = "logs"
	}
	return &journalSummarizer{dir: dir}
}

func (s *journalSummarizer) journalPath(t time.Time) string {
	return filepath.Join(s.dir, "journal", TradingDate(t)+".txt")
}

func (s *journalSummarizer) csvPath(t time.Time) string {
	return filepath.Join(s.dir, "eod", TradingDate(t)+".csv")
}

// SummarizeDay returns "" with no error when the day has no journal.
func (s *journalSummarizer) SummarizeDay(t time.Time) (string, error) {
	f, err := os.Open(s.journalPath(t))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	aggs := map[string]*aggRow{}
	row := func(domain string) *aggRow {
		if domain == "" {
			domain = "app"
		}
		r := aggs[domain]
		if r == nil {
			r = &aggRow{Domain: domain}
			aggs[domain] = r
		}
		return r
	}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e tradelog.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		switch e.Kind {
		case tradelog.KindOrder:
			r := row(e.Domain)
			switch e.Level {
			case types.OrderComplete:
				r.Complete++
			case types.OrderRejected:
				r.Rejected++
			case types.OrderCancelled:
				r.Cancelled++
			}
		case tradelog.KindProtection:
			row(e.Domain).Protections++
		case tradelog.KindNotification:
			if e.Level == string(types.LevelError) {
				row(e.Domain).Errors++
			}
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if len(aggs) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := s.csvPath(t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write([]string{"domain", "orders_complete", "orders_rejected", "orders_cancelled", "protections", "errors"}); err != nil {
		return "", err
	}
	var total aggRow
	for _, k := range keys {
		r := aggs[k]
		if err := w.Write(r.record()); err != nil {
			return "", err
		}
		total.Complete += r.Complete
		total.Rejected += r.Rejected
		total.Cancelled += r.Cancelled
		total.Protections += r.Protections
		total.Errors += r.Errors
	}
	total.Domain = "TOTAL"
	_ = w.Write(total.record())
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}

func (r aggRow) record() []string {
	return []string{
		r.Domain,
		strconv.Itoa(r.Complete),
		strconv.Itoa(r.Rejected),
		strconv.Itoa(r.Cancelled),
		strconv.Itoa(r.Protections),
		strconv.Itoa(r.Errors),
	}
}

// ShouldRunNow is true after market close until today's CSV exists.
func (s *journalSummarizer) ShouldRunNow(now time.Time) (bool, string) {
	outPath := s.csvPath(now)
	if now.Before(MarketCloseTime(now)) {
		return false, outPath
	}
	if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
		return true, outPath
	}
	return false, outPath
}
