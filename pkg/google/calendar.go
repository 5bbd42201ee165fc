package google

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/taskbell/pkg/colors"
	"github.com/harrisonrobin/taskbell/pkg/index"
	"github.com/harrisonrobin/taskbell/pkg/notify"
)

// CalendarClient writes due-task events to one Google calendar.
type CalendarClient struct {
	srv        *calendar.Service
	calendarID string
	index      *index.EventIndex
	palette    *colors.ColorCache
	logger     *slog.Logger
}

// NewCalendarClient creates a client for calendarID. idx and palette may be nil.
func NewCalendarClient(srv *calendar.Service, calendarID string, idx *index.EventIndex, palette *colors.ColorCache, logger *slog.Logger) *CalendarClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalendarClient{srv: srv, calendarID: calendarID, index: idx, palette: palette, logger: logger}
}

// SyncEvent creates the event for msg or patches the one already created for the same
// task identity.
func (c *CalendarClient) SyncEvent(ctx context.Context, msg notify.Message) (*calendar.Event, error) {
	event, err := ConvertMessageToEvent(msg, c.palette)
	if err != nil {
		return nil, err
	}
	key := msg.Task.Key()

	var existing *calendar.Event
	if c.index != nil {
		if eventID := c.index.Get(key); eventID != "" {
			existing, err = c.srv.Events.Get(c.calendarID, eventID).Context(ctx).Do()
			if err != nil || existing.Status == "cancelled" {
				c.logger.Debug("indexed event unavailable, searching", "key", key, "event", eventID)
				existing = nil
			}
		}
	}

	if existing == nil {
		existing, err = c.GetEventByKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("error searching for event: %w", err)
		}
	}

	if existing != nil {
		patch := EventNeedsUpdate(existing, event)
		if patch == nil {
			c.remember(key, existing.Id)
			return existing, nil
		}
		updated, err := c.PatchEvent(ctx, existing.Id, patch)
		if err != nil {
			return nil, err
		}
		c.remember(key, updated.Id)
		return updated, nil
	}

	created, err := c.srv.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	c.remember(key, created.Id)
	return created, nil
}

func (c *CalendarClient) remember(key, eventID string) {
	if c.index != nil {
		c.index.Set(key, eventID)
	}
}

// PatchEvent performs a partial update on an event.
func (c *CalendarClient) PatchEvent(ctx context.Context, eventID string, patch *calendar.Event) (*calendar.Event, error) {
	return c.srv.Events.Patch(c.calendarID, eventID, patch).Context(ctx).Do()
}

// GetEventByKey looks up the event carrying the given task key in its private extended
// properties. It returns nil when there is none.
func (c *CalendarClient) GetEventByKey(ctx context.Context, key string) (*calendar.Event, error) {
	events, err := c.srv.Events.List(c.calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", KeyProperty, key)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	for _, item := range events.Items {
		if item.Status != "cancelled" {
			return item, nil
		}
	}
	return nil, nil
}
