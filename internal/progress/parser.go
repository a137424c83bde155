// Package progress decodes engine output into structured progress and
// combines progress from several subsystems into throttled notifications.
package progress

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
)

// Kind classifies a parsed output line.
type Kind int

const (
	KindIgnored Kind = iota
	KindOverall
	KindCurrent
	KindLog
)

func (k Kind) String() string {
	switch k {
	case KindOverall:
		return "overall"
	case KindCurrent:
		return "current"
	case KindLog:
		return "log"
	}
	return "ignored"
}

// Entry is the decoded form of a single line.
type Entry struct {
	Kind     Kind
	Progress domain.Progress
	Text     string
}

// OverallPercentTotal is the unit total of the overall channel.
const OverallPercentTotal = 100

var (
	// "[3/10] Sending 'x' (42%) Finished", "[=====     ] 42% Finished"
	overallShape   = regexp.MustCompile(`^\[[^\]]*\].*Finished\.?$`)
	overallPercent = regexp.MustCompile(`([^\s(]+)%\)?\s*Finished\.?$`)

	// "[==        ] 5% (512.0 KB/1.0 MB)"
	currentPair = regexp.MustCompile(`^\[[^\]]*\].*\(([^()/]+)/([^()/]+)\)`)
)

// ignoredKeywords are dropped without being logged.
var ignoredKeywords = []string{
	"Receiving files",
}

// ParseLine decodes one line of engine output. It never fails: malformed progress
// becomes KindIgnored.
func ParseLine(line string) Entry {
	line = strings.TrimSpace(line)
	if line == "" {
		return Entry{Kind: KindIgnored}
	}

	if overallShape.MatchString(line) {
		return parseOverall(line)
	}

	if m := currentPair.FindStringSubmatch(line); m != nil {
		return parseCurrent(m[1], m[2])
	}

	for _, keyword := range ignoredKeywords {
		if strings.Contains(line, keyword) {
			return Entry{Kind: KindIgnored}
		}
	}

	return Entry{Kind: KindLog, Text: line}
}

func parseOverall(line string) Entry {
	m := overallPercent.FindStringSubmatch(line)
	if m == nil {
		return Entry{Kind: KindIgnored}
	}
	value, err := strconv.Atoi(m[1])
	if err != nil || value < 0 || value > 100 {
		return Entry{Kind: KindIgnored}
	}
	return Entry{
		Kind:     KindOverall,
		Progress: domain.NewProgress(int64(value), OverallPercentTotal),
	}
}

func parseCurrent(current, total string) Entry {
	cur, err := DecodeSize(current)
	if err != nil {
		return Entry{Kind: KindIgnored}
	}
	tot, err := DecodeSize(total)
	if err != nil {
		return Entry{Kind: KindIgnored}
	}
	return Entry{
		Kind:     KindCurrent,
		Progress: domain.NewProgress(cur, tot),
	}
}
