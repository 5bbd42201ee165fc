package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/harrisonrobin/taskbell/pkg/auth"
	"github.com/harrisonrobin/taskbell/pkg/colors"
	"github.com/harrisonrobin/taskbell/pkg/index"
	"github.com/harrisonrobin/taskbell/pkg/notify"
)

// CalendarSink is a notify.Sink whose targets are calendar names. Each due task becomes an
// all-day event on its due date.
type CalendarSink struct {
	srv     *calendar.Service
	index   *index.EventIndex
	palette *colors.ColorCache
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]*CalendarClient
}

// NewCalendarSink wraps an authenticated calendar service.
func NewCalendarSink(srv *calendar.Service, idx *index.EventIndex, palette *colors.ColorCache, logger *slog.Logger) *CalendarSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalendarSink{
		srv:     srv,
		index:   idx,
		palette: palette,
		logger:  logger,
		clients: make(map[string]*CalendarClient),
	}
}

// NewClient authenticates with the credentials in credentialsDir and returns a sink.
func NewClient(ctx context.Context, credentialsDir string, idx *index.EventIndex, palette *colors.ColorCache, logger *slog.Logger) (*CalendarSink, error) {
	srv, err := auth.GetCalendarService(ctx, credentialsDir)
	if err != nil {
		return nil, err
	}
	return NewCalendarSink(srv, idx, palette, logger), nil
}

func (s *CalendarSink) Send(ctx context.Context, target string, msg notify.Message) error {
	client, err := s.client(ctx, target)
	if err != nil {
		return deliveryError(target, err)
	}
	event, err := client.SyncEvent(ctx, msg)
	if err != nil {
		return deliveryError(target, err)
	}
	s.logger.Debug("synced calendar event", "calendar", target, "event", event.Id)
	return nil
}

// Save persists the event index and the color cache.
func (s *CalendarSink) Save() error {
	var errs []error
	if s.index != nil {
		errs = append(errs, s.index.Save())
	}
	if s.palette != nil {
		errs = append(errs, s.palette.Save())
	}
	return errors.Join(errs...)
}

func (s *CalendarSink) client(ctx context.Context, name string) (*CalendarClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[name]; ok {
		return c, nil
	}
	calendarID, err := s.resolveCalendarID(ctx, name)
	if err != nil {
		return nil, err
	}
	c := NewCalendarClient(s.srv, calendarID, s.index, s.palette, s.logger)
	s.clients[name] = c
	return c, nil
}

// resolveCalendarID maps a calendar name to its id. "primary" and ids (which contain an
// "@") are used as given.
func (s *CalendarSink) resolveCalendarID(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty calendar name")
	}
	if name == "primary" || strings.Contains(name, "@") {
		return name, nil
	}

	var calendarID string
	errFound := errors.New("found")
	err := s.srv.CalendarList.List().Pages(ctx, func(list *calendar.CalendarList) error {
		for _, item := range list.Items {
			if item.Summary == name {
				calendarID = item.Id
				return errFound
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", fmt.Errorf("unable to retrieve calendar list: %w", err)
	}
	if calendarID == "" {
		return "", fmt.Errorf("calendar '%s' not found", name)
	}
	return calendarID, nil
}

func deliveryError(target string, err error) error {
	de := &notify.DeliveryError{Target: "gcal:" + target, Err: err}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		de.StatusCode = apiErr.Code
	}
	return de
}
