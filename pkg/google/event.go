package google

import (
	"fmt"
	"strings"

	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/taskbell/pkg/colors"
	"github.com/harrisonrobin/taskbell/pkg/model"
	"github.com/harrisonrobin/taskbell/pkg/notify"
)

// KeyProperty is the private extended property holding the task identity key.
const KeyProperty = "taskbell_key"

// ConvertMessageToEvent builds the all-day event for a due-task message. High priority
// tasks are Tomato and medium ones Banana; other tasks take the color of their first tag.
func ConvertMessageToEvent(msg notify.Message, palette *colors.ColorCache) (*calendar.Event, error) {
	task := msg.Task
	if task.Due == nil {
		return nil, fmt.Errorf("task %q has no due date", task.Description)
	}

	var colorID string
	switch task.Priority {
	case model.PriorityHigh:
		colorID = colors.Tomato
	case model.PriorityMedium:
		colorID = colors.Banana
	default:
		group := ""
		if len(task.Tags) > 0 {
			group = task.Tags[0]
		}
		if palette != nil {
			colorID = palette.GetColorID(group)
		}
	}

	var desc strings.Builder
	desc.WriteString(msg.Payload.Message)
	desc.WriteString("\n")
	if len(task.Tags) > 0 {
		desc.WriteString("\n")
		desc.WriteString(strings.Join(task.Tags, " "))
		desc.WriteString("\n")
	}
	if task.Recurrence != model.RecurrenceNone {
		fmt.Fprintf(&desc, "Repeats every %s\n", task.Recurrence)
	}
	if task.Source != nil {
		fmt.Fprintf(&desc, "Source: %s line %d\n", task.Source.DocumentID, task.Source.Line)
	}
	if msg.Payload.Click != "" {
		fmt.Fprintf(&desc, "Open: %s\n", msg.Payload.Click)
	}

	return &calendar.Event{
		Summary:     task.Description,
		Description: desc.String(),
		ColorId:     colorID,
		Start:       &calendar.EventDateTime{Date: task.Due.String()},
		End:         &calendar.EventDateTime{Date: task.Due.AddDays(1).String()},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{KeyProperty: task.Key()},
		},
	}, nil
}

// EventNeedsUpdate returns a patch carrying the fields of target that differ from
// existing, or nil when the event is already up to date.
func EventNeedsUpdate(existing *calendar.Event, target *calendar.Event) *calendar.Event {
	patch := &calendar.Event{}
	needsUpdate := false

	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		needsUpdate = true
	}
	if existing.Description != target.Description {
		patch.Description = target.Description
		needsUpdate = true
	}
	if existing.ColorId != target.ColorId {
		patch.ColorId = target.ColorId
		needsUpdate = true
	}
	if eventDate(existing.Start) != eventDate(target.Start) || eventDate(existing.End) != eventDate(target.End) {
		patch.Start = target.Start
		patch.End = target.End
		needsUpdate = true
	}

	if needsUpdate {
		return patch
	}
	return nil
}

func eventDate(dt *calendar.EventDateTime) string {
	if dt == nil {
		return ""
	}
	if dt.Date != "" {
		return dt.Date
	}
	return dt.DateTime
}
