// Package notify builds due-task notifications and delivers them to sinks.
package notify

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/harrisonrobin/taskbell/pkg/model"
)

const (
	Title = "Task due today"

	// ntfy priorities, 1 (min) to 5 (max).
	PriorityDefault = 3
	PriorityHigh    = 4
	PriorityMax     = 5
)

// Action is an ntfy action button.
type Action struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	URL    string `json:"url"`
}

// Payload is the JSON body published to ntfy. Click and Actions are omitted when the task
// has no source location.
type Payload struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
	Click    string   `json:"click,omitempty"`
	Actions  []Action `json:"actions,omitempty"`
}

// Message is what a Sink receives: the task that triggered the dispatch and its payload.
type Message struct {
	Task    model.Task
	Payload Payload
}

// NewMessage builds the dispatch message for task addressed to target. vaultName is used
// for the deep link back to the task's line.
func NewMessage(task model.Task, target string, vaultName string) Message {
	p := Payload{
		Topic:    target,
		Title:    Title,
		Message:  DueText(task.Description),
		Priority: priorityOf(task.Priority),
		Tags:     []string{"date"},
	}
	for _, tag := range task.Tags {
		p.Tags = append(p.Tags, strings.TrimPrefix(tag, "#"))
	}
	if link := DeepLink(vaultName, task.Source); link != "" {
		p.Click = link
		p.Actions = []Action{{Action: "view", Label: "Open", URL: link}}
	}
	return Message{Task: task, Payload: p}
}

// DueText is the human text shared by the push payload and the in-app notice.
func DueText(description string) string {
	return fmt.Sprintf("Task \"%s\" is due today!", description)
}

// DeepLink returns an obsidian:// URI opening the task's document at its line, or "" when
// the location is unknown.
func DeepLink(vaultName string, loc *model.SourceLocation) string {
	if loc == nil || loc.DocumentID == "" {
		return ""
	}
	return fmt.Sprintf("obsidian://advanced-uri?vault=%s&filepath=%s&line=%s",
		encodeComponent(vaultName), encodeComponent(loc.DocumentID), encodeComponent(fmt.Sprint(loc.Line)))
}

// componentUnescaper restores the characters encodeURIComponent leaves alone but
// url.QueryEscape escapes.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeComponent escapes s like JavaScript's encodeURIComponent.
func encodeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

func priorityOf(p model.Priority) int {
	switch p {
	case model.PriorityHigh:
		return PriorityMax
	case model.PriorityMedium:
		return PriorityHigh
	default:
		return PriorityDefault
	}
}
