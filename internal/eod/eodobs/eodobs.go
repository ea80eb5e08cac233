package eodobs

import (
	"context"
	"time"

	"tradedesk/internal/eod"
	"tradedesk/internal/logger"
	"tradedesk/internal/trace"
)

type observableSummarizer struct {
	summarizer eod.Summarizer
}

var _ eod.Summarizer = (*observableSummarizer)(nil)

func Wrap(summarizer eod.Summarizer) eod.Summarizer {
	return &observableSummarizer{summarizer: summarizer}
}

func (o *observableSummarizer) SummarizeDay(t time.Time) (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeDay")
	defer span.End()

	date := eod.TradingDate(t)
	logger.InfoSkip(ctx, 1, "Starting EOD summary generation", "date", date)

	csvPath, err := o.summarizer.SummarizeDay(t)
	if err != nil {
		trace.Fail(span, err)
		logger.ErrorWithErrSkip(ctx, 1, "EOD summary generation failed", err, "date", date)
		return "", err
	}

	if csvPath == "" {
		logger.InfoSkip(ctx, 1, "No journal entries for EOD summary", "date", date)
		return "", nil
	}

	logger.InfoSkip(ctx, 1, "EOD summary generated successfully", "date", date, "csv_path", csvPath)
	return csvPath, nil
}

func (o *observableSummarizer) ShouldRunNow(now time.Time) (bool, string) {
	shouldRun, csvPath := o.summarizer.ShouldRunNow(now)
	if shouldRun {
		logger.DebugSkip(context.Background(), 1, "EOD summary is due", "csv_path", csvPath)
	}
	return shouldRun, csvPath
}
