package markdown

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/harrisonrobin/taskbell/pkg/model"
)

// Metadata glyphs of the Obsidian Tasks dialect.
const (
	GlyphDue        = '📅'
	GlyphHigh       = '⏫'
	GlyphMedium     = '🔼'
	GlyphRecurrence = '🔁'
)

const glyphs = string(GlyphDue) + string(GlyphHigh) + string(GlyphMedium) + string(GlyphRecurrence)

// statusChars are the characters accepted between the checkbox brackets.
const statusChars = " xX-/"

type LineKind int

const (
	NoMatch LineKind = iota
	TaskLine
)

// LineMatch is the result of matching a single line. Only TaskLine matches carry data.
type LineMatch struct {
	Kind        LineKind
	Status      rune
	Column      int    // byte offset of the "- [" token
	Description string // raw segment, tags not yet removed
	Remainder   string // from the first glyph to end of line, empty if none
}

// Metadata holds the annotations found in the remainder of a task line.
type Metadata struct {
	Due        *model.Date
	Priority   model.Priority
	Recurrence model.Recurrence
}

// MatchLine recognizes a checkbox task in line. The first well-formed checkbox wins.
func MatchLine(line string) LineMatch {
	line = strings.TrimSuffix(line, "\r")
	offset := 0
	for {
		i := strings.Index(line[offset:], "- [")
		if i < 0 {
			return LineMatch{Kind: NoMatch}
		}
		start := offset + i
		box := start + len("- [")
		if box+1 < len(line) && strings.IndexByte(statusChars, line[box]) >= 0 && line[box+1] == ']' {
			rest := strings.TrimLeftFunc(line[box+2:], unicode.IsSpace)
			m := LineMatch{Kind: TaskLine, Status: rune(line[box]), Column: start}
			if g := strings.IndexAny(rest, glyphs); g >= 0 {
				m.Description = rest[:g]
				m.Remainder = rest[g:]
			} else {
				m.Description = rest
			}
			return m
		}
		offset = start + 1
	}
}

// Task builds the task record for a TaskLine match. source may be nil.
func (m LineMatch) Task(source *model.SourceLocation) model.Task {
	description, tags := ExtractTags(m.Description)
	meta := ParseRemainder(m.Remainder)
	return model.Task{
		Description: description,
		Status:      model.StatusFromRune(m.Status),
		Due:         meta.Due,
		Priority:    meta.Priority,
		Recurrence:  meta.Recurrence,
		Tags:        tags,
		Source:      source,
	}
}

// ExtractTags removes every "#word" token from s and returns the trimmed text and the
// tokens in order of appearance.
func ExtractTags(s string) (string, []string) {
	tags := []string{}
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] == '#' {
			j := i + 1
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			if j > i+1 {
				tags = append(tags, s[i:j])
				i = j
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return strings.TrimSpace(b.String()), tags
}

// ParseRemainder extracts due date, priority and recurrence. Each kind is independent of
// the others and only its first match counts.
func ParseRemainder(rem string) Metadata {
	var meta Metadata
	if rem == "" {
		return meta
	}
	if date, ok := firstDue(rem); ok {
		if d, err := model.ParseDate(date); err == nil {
			meta.Due = &d
		}
	}
	if i := strings.IndexAny(rem, string(GlyphHigh)+string(GlyphMedium)); i >= 0 {
		r, _ := utf8.DecodeRuneInString(rem[i:])
		if r == GlyphHigh {
			meta.Priority = model.PriorityHigh
		} else {
			meta.Priority = model.PriorityMedium
		}
	}
	if rec, ok := firstRecurrence(rem); ok {
		meta.Recurrence = rec
	}
	return meta
}

// firstDue returns the first "📅 YYYY-MM-DD" date string in rem.
func firstDue(rem string) (string, bool) {
	for _, after := range glyphOccurrences(rem, GlyphDue) {
		rest, ok := skipSpace(after)
		if !ok || len(rest) < 10 {
			continue
		}
		if isDateShape(rest[:10]) {
			return rest[:10], true
		}
	}
	return "", false
}

// firstRecurrence returns the unit of the first "🔁 every <unit>" in rem. A recognized
// keyword followed by an unknown unit yields no recurrence.
func firstRecurrence(rem string) (model.Recurrence, bool) {
	for _, after := range glyphOccurrences(rem, GlyphRecurrence) {
		rest, ok := skipSpace(after)
		if !ok || !strings.HasPrefix(rest, "every") {
			continue
		}
		rest, ok = skipSpace(rest[len("every"):])
		if !ok {
			continue
		}
		end := 0
		for end < len(rest) && isWordByte(rest[end]) {
			end++
		}
		if rec, ok := model.ParseRecurrence(rest[:end]); ok {
			return rec, true
		}
	}
	return model.RecurrenceNone, false
}

// glyphOccurrences returns the text following each occurrence of g in s.
func glyphOccurrences(s string, g rune) []string {
	var out []string
	sep := string(g)
	for {
		i := strings.Index(s, sep)
		if i < 0 {
			return out
		}
		s = s[i+len(sep):]
		out = append(out, s)
	}
}

// skipSpace drops leading whitespace and reports whether there was at least one.
func skipSpace(s string) (string, bool) {
	trimmed := strings.TrimLeftFunc(s, unicode.IsSpace)
	return trimmed, len(trimmed) < len(s)
}

func isDateShape(s string) bool {
	for i := 0; i < len(s); i++ {
		switch i {
		case 4, 7:
			if s[i] != '-' {
				return false
			}
		default:
			if s[i] < '0' || s[i] > '9' {
				return false
			}
		}
	}
	return true
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
