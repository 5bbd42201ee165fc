package model

import (
	"sort"
	"strings"
)

// Status is the state encoded by the checkbox character of a task line.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
	StatusInProgress Status = "in progress"
)

// StatusFromRune maps a checkbox character to a Status. Unknown characters are Todo.
func StatusFromRune(r rune) Status {
	switch r {
	case 'x', 'X':
		return StatusDone
	case '-':
		return StatusCancelled
	case '/':
		return StatusInProgress
	default:
		return StatusTodo
	}
}

// Priority is empty when the task carries no priority marker.
type Priority string

const (
	PriorityNone   Priority = ""
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
)

// Recurrence is empty when the task carries no (recognized) recurrence marker.
type Recurrence string

const (
	RecurrenceNone  Recurrence = ""
	RecurrenceDay   Recurrence = "day"
	RecurrenceWeek  Recurrence = "week"
	RecurrenceMonth Recurrence = "month"
	RecurrenceYear  Recurrence = "year"
)

// ParseRecurrence returns the recurrence unit for word, or false if the unit is unknown.
func ParseRecurrence(word string) (Recurrence, bool) {
	switch Recurrence(word) {
	case RecurrenceDay, RecurrenceWeek, RecurrenceMonth, RecurrenceYear:
		return Recurrence(word), true
	}
	return RecurrenceNone, false
}

// SourceLocation points back at the line a task was parsed from.
type SourceLocation struct {
	DocumentID string `json:"document_id"`
	Line       int    `json:"line"`
}

// Task represents one task line parsed from a markdown document.
// Tasks are rebuilt from scratch on every scan and never mutated afterwards.
type Task struct {
	Description string          `json:"description"`
	Status      Status          `json:"status"`
	Due         *Date           `json:"due,omitempty"`
	Priority    Priority        `json:"priority,omitempty"`
	Recurrence  Recurrence      `json:"recurrence,omitempty"`
	Tags        []string        `json:"tags"`
	Source      *SourceLocation `json:"source,omitempty"`
}

// Key is the notification identity of the task: description and due date joined by "-".
// Two tasks with the same description and due date share a key.
func (t Task) Key() string {
	due := ""
	if t.Due != nil {
		due = t.Due.String()
	}
	return t.Description + "-" + due
}

// HasTag reports whether tag is one of the task's tags. Matching is exact.
func (t Task) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if tg == tag {
			return true
		}
	}
	return false
}

// DueOn reports whether the task has a due date equal to d.
func (t Task) DueOn(d Date) bool {
	return t.Due != nil && t.Due.Equal(d)
}

// SubscriptionMap maps a tag filter (e.g. "#work") to a delivery target.
type SubscriptionMap map[string]string

// Filters returns the non-empty tag filters in sorted order.
func (m SubscriptionMap) Filters() []string {
	filters := make([]string, 0, len(m))
	for f := range m {
		if strings.TrimSpace(f) == "" {
			continue
		}
		filters = append(filters, f)
	}
	sort.Strings(filters)
	return filters
}
