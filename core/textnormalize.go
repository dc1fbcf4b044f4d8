package orchestration

import "strings"

const DefaultTerminalMark = "."

var DefaultTerminalMarks = []string{".", "!", "?", "।"}

type textNormalizer struct {
	terminalMarks []string
	defaultMark   string
}

func newTextNormalizer(marks []string, defaultMark string) textNormalizer {
	if len(marks) == 0 {
		marks = DefaultTerminalMarks
	}
	if defaultMark == "" {
		defaultMark = DefaultTerminalMark
	}
	return textNormalizer{terminalMarks: append([]string(nil), marks...), defaultMark: defaultMark}
}

// forRendering collapses every whitespace run into a single space and makes
// sure the text ends with a terminal mark. Empty text stays empty.
func (n textNormalizer) forRendering(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}

	for _, mark := range n.terminalMarks {
		if mark != "" && strings.HasSuffix(text, mark) {
			return text
		}
	}
	return text + n.defaultMark
}
