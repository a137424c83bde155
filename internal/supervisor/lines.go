package supervisor

import "strings"

// LineSplitter turns arbitrarily split output chunks into complete lines.
// Carriage returns count as line breaks so that redrawn progress bars surface
// as separate lines. The zero value is ready to use; it is not safe for
// concurrent use.
type LineSplitter struct {
	carry string
}

// Feed appends chunk and returns every line completed by it, without terminators.
// An unterminated tail is held until a later Feed or Flush.
func (l *LineSplitter) Feed(chunk string) []string {
	data := strings.ReplaceAll(l.carry+chunk, "\r", "\n")
	idx := strings.LastIndexByte(data, '\n')
	if idx < 0 {
		l.carry = data
		return nil
	}
	l.carry = data[idx+1:]
	return strings.Split(data[:idx], "\n")
}

// Flush returns the held fragment, if any, and resets the splitter.
func (l *LineSplitter) Flush() string {
	rest := l.carry
	l.carry = ""
	return rest
}

// StderrTail returns the last maxLines non-empty lines of s, trimmed.
func StderrTail(s string, maxLines int) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r", "\n"), "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < maxLines; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			kept = append(kept, line)
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}
