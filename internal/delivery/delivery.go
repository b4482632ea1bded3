// Package delivery sends notification events to chat groups.
package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
	"github.com/MrSnakeDoc/mcwatch/internal/logger"
)

// Deliverer sends one event to its group.
type Deliverer interface {
	Deliver(ctx context.Context, ev domain.NotificationEvent) error
	// Active reports whether events for accountID can be delivered.
	Active(accountID string) bool
}

// Message renders the text posted for ev.
func Message(ev domain.NotificationEvent) string {
	name := strings.Join(ev.Names, ", ")
	addr := domain.Address{Host: ev.Host, Port: ev.Port}
	return fmt.Sprintf("server %s (%s %s) changed state %s", name, addr, ev.Protocol, ev.Kind)
}

// LogOnly writes events to the log. Every account is active.
type LogOnly struct {
	logger logger.Logger
}

func NewLogOnly(log logger.Logger) *LogOnly {
	return &LogOnly{logger: log}
}

func (l *LogOnly) Deliver(_ context.Context, ev domain.NotificationEvent) error {
	l.logger.Info(Message(ev),
		logger.String("event_id", ev.ID),
		logger.String("bot", ev.Subscriber.AccountID),
		logger.String("group", ev.Subscriber.GroupID))
	return nil
}

func (l *LogOnly) Active(string) bool { return true }
