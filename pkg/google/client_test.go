package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/harrisonrobin/taskbell/pkg/index"
	"github.com/harrisonrobin/taskbell/pkg/model"
	"github.com/harrisonrobin/taskbell/pkg/notify"
)

// fakeCalendarAPI serves the subset of the Calendar API the sink uses.
type fakeCalendarAPI struct {
	mu      sync.Mutex
	events  map[string]*calendar.Event
	inserts int
	patches int
	lists   int
	nextID  int
}

func (f *fakeCalendarAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/me/calendarList", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&calendar.CalendarList{Items: []*calendar.CalendarListEntry{
			{Id: "personal@group.calendar.google.com", Summary: "Personal"},
			{Id: "cal1", Summary: "Reminders"},
		}})
	})
	mux.HandleFunc("GET /calendars/{cal}/events", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lists++
		key := strings.TrimPrefix(r.URL.Query().Get("privateExtendedProperty"), KeyProperty+"=")
		var items []*calendar.Event
		for _, e := range f.events {
			if e.ExtendedProperties != nil && e.ExtendedProperties.Private[KeyProperty] == key {
				items = append(items, e)
			}
		}
		json.NewEncoder(w).Encode(&calendar.Events{Items: items})
	})
	mux.HandleFunc("GET /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		e, ok := f.events[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"error":{"code":404,"message":"Not Found"}}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(e)
	})
	mux.HandleFunc("POST /calendars/{cal}/events", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var e calendar.Event
		json.NewDecoder(r.Body).Decode(&e)
		f.nextID++
		e.Id = fmt.Sprintf("evt%d", f.nextID)
		f.events[e.Id] = &e
		f.inserts++
		json.NewEncoder(w).Encode(&e)
	})
	mux.HandleFunc("PATCH /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		e, ok := f.events[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"error":{"code":404,"message":"Not Found"}}`, http.StatusNotFound)
			return
		}
		var patch calendar.Event
		json.NewDecoder(r.Body).Decode(&patch)
		if patch.ColorId != "" {
			e.ColorId = patch.ColorId
		}
		if patch.Summary != "" {
			e.Summary = patch.Summary
		}
		f.patches++
		json.NewEncoder(w).Encode(e)
	})
	return mux
}

func newTestSink(t *testing.T, api *fakeCalendarAPI) (*CalendarSink, *index.EventIndex) {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	svc, err := calendar.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("Failed to create calendar service: %v", err)
	}
	idx, _ := index.NewEventIndex("")
	return NewCalendarSink(svc, idx, nil, nil), idx
}

func TestCalendarSinkCreatesThenReusesEvent(t *testing.T) {
	api := &fakeCalendarAPI{events: make(map[string]*calendar.Event)}
	sink, idx := newTestSink(t, api)
	msg := dueMessage(model.PriorityNone)

	if err := sink.Send(context.Background(), "Reminders", msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if api.inserts != 1 {
		t.Fatalf("Expected 1 insert, got %d", api.inserts)
	}
	if idx.Get(msg.Task.Key()) != "evt1" {
		t.Errorf("Expected index to map key to evt1, got %q", idx.Get(msg.Task.Key()))
	}

	if err := sink.Send(context.Background(), "Reminders", msg); err != nil {
		t.Fatalf("Second send failed: %v", err)
	}
	if api.inserts != 1 || api.patches != 0 {
		t.Errorf("Expected unchanged event to be reused, got %d inserts and %d patches", api.inserts, api.patches)
	}
}

func TestCalendarSinkPatchesChangedEvent(t *testing.T) {
	api := &fakeCalendarAPI{events: make(map[string]*calendar.Event)}
	sink, _ := newTestSink(t, api)

	sink.Send(context.Background(), "Reminders", dueMessage(model.PriorityNone))
	if err := sink.Send(context.Background(), "Reminders", dueMessage(model.PriorityHigh)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if api.inserts != 1 || api.patches != 1 {
		t.Errorf("Expected 1 insert and 1 patch, got %d and %d", api.inserts, api.patches)
	}
	if api.events["evt1"].ColorId != "11" {
		t.Errorf("Expected patched color 11, got %s", api.events["evt1"].ColorId)
	}
}

func TestCalendarSinkFindsEventByKeyWithoutIndex(t *testing.T) {
	api := &fakeCalendarAPI{events: make(map[string]*calendar.Event)}
	sink, idx := newTestSink(t, api)
	msg := dueMessage(model.PriorityNone)

	sink.Send(context.Background(), "Reminders", msg)
	idx.Remove(msg.Task.Key())

	if err := sink.Send(context.Background(), "Reminders", msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if api.inserts != 1 {
		t.Errorf("Expected the existing event to be found by key, got %d inserts", api.inserts)
	}
	if idx.Get(msg.Task.Key()) != "evt1" {
		t.Error("Expected the index to be repaired")
	}
}

func TestCalendarSinkUnknownCalendar(t *testing.T) {
	api := &fakeCalendarAPI{events: make(map[string]*calendar.Event)}
	sink, _ := newTestSink(t, api)

	err := sink.Send(context.Background(), "Nope", dueMessage(model.PriorityNone))
	var de *notify.DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("Expected *DeliveryError, got %v", err)
	}
	if de.Target != "gcal:Nope" {
		t.Errorf("Expected target gcal:Nope, got %s", de.Target)
	}
}

func TestResolveCalendarIDPassesThroughIDs(t *testing.T) {
	api := &fakeCalendarAPI{events: make(map[string]*calendar.Event)}
	sink, _ := newTestSink(t, api)

	for _, name := range []string{"primary", "someone@example.com"} {
		id, err := sink.resolveCalendarID(context.Background(), name)
		if err != nil || id != name {
			t.Errorf("Expected %s to be used as is, got %q, %v", name, id, err)
		}
	}
	id, err := sink.resolveCalendarID(context.Background(), "Personal")
	if err != nil || id != "personal@group.calendar.google.com" {
		t.Errorf("Expected Personal to resolve, got %q, %v", id, err)
	}
}
