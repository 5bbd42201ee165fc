package markdown

import (
	"iter"
	"strings"

	"github.com/harrisonrobin/taskbell/pkg/model"
)

// Parse returns the tasks found in text, in the order their lines appear. The sequence is
// lazy and can be ranged over any number of times. When documentID is empty the tasks carry
// no source location.
func Parse(text string, documentID string) iter.Seq[model.Task] {
	return func(yield func(model.Task) bool) {
		lineNo := 1
		for rest := text; ; lineNo++ {
			line, next, more := strings.Cut(rest, "\n")
			if m := MatchLine(line); m.Kind == TaskLine {
				var source *model.SourceLocation
				if documentID != "" {
					source = &model.SourceLocation{DocumentID: documentID, Line: lineNo}
				}
				if !yield(m.Task(source)) {
					return
				}
			}
			if !more {
				return
			}
			rest = next
		}
	}
}

// ParseAll collects Parse into a slice.
func ParseAll(text string, documentID string) []model.Task {
	var tasks []model.Task
	for task := range Parse(text, documentID) {
		tasks = append(tasks, task)
	}
	return tasks
}

// FilterTasks filters a slice of tasks by a given tag. An empty tag keeps everything.
func FilterTasks(tasks []model.Task, tag string) []model.Task {
	if tag == "" {
		return tasks
	}
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	var filteredTasks []model.Task
	for _, task := range tasks {
		if task.HasTag(tag) {
			filteredTasks = append(filteredTasks, task)
		}
	}
	return filteredTasks
}
