// Package notify is the user-visible notification sink.
package notify

import (
	"context"
	"time"

	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
	"tradedesk/internal/tradelog"
	"tradedesk/internal/types"

	"github.com/google/uuid"
)

// Event is the broadcast key notifications are pushed under.
const Event = "notification"

// Sink broadcasts, logs and journals notifications. Failures in any of
// those are logged and swallowed.
type Sink struct {
	bc      interfaces.Broadcaster
	journal interfaces.Journal
	now     func() time.Time
}

var _ interfaces.Notifier = (*Sink)(nil)

// New builds a sink; journal may be nil.
func New(bc interfaces.Broadcaster, journal interfaces.Journal) *Sink {
	return &Sink{bc: bc, journal: journal, now: time.Now}
}

func (s *Sink) Info(ctx context.Context, description string) {
	s.emit(ctx, types.LevelInfo, description)
}

func (s *Sink) Success(ctx context.Context, description string) {
	s.emit(ctx, types.LevelSuccess, description)
}

func (s *Sink) Error(ctx context.Context, description string) {
	s.emit(ctx, types.LevelError, description)
}

func (s *Sink) emit(ctx context.Context, level types.NotificationLevel, description string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Notification delivery panicked", "panic", r, "description", description)
		}
	}()

	n := types.Notification{
		ID:          uuid.NewString(),
		Level:       level,
		Description: description,
		Time:        s.now(),
	}

	if level == types.LevelError {
		logger.Warn(ctx, "Notification", "level", level, "description", description)
	} else {
		logger.Info(ctx, "Notification", "level", level, "description", description)
	}

	if s.bc != nil {
		s.bc.Broadcast(Event, n)
	}
	if s.journal != nil {
		if err := s.journal.Append(tradelog.Entry{
			Kind:    tradelog.KindNotification,
			Level:   string(level),
			Message: description,
			Extra:   map[string]any{"id": n.ID},
		}); err != nil {
			logger.Warn(ctx, "Failed to journal notification", "error", err)
		}
	}
}
