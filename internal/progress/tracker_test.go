package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
)

func TestTracker_DedupsEqualProgress(t *testing.T) {
	tr := NewTracker()

	assert.True(t, tr.Apply(ParseLine("[1/4] (25%) Finished")))
	assert.False(t, tr.Apply(ParseLine("[2/4] (25%) Finished")), "same overall value must not notify")
	assert.Equal(t, domain.Progress{Completed: 25, Total: 100}, tr.Overall())

	assert.True(t, tr.Apply(ParseLine("[==] (1.0 KB/2.0 KB)")))
	assert.False(t, tr.Apply(ParseLine("[===] (1.0 KB/2.0 KB)")))
	assert.Equal(t, domain.Progress{Completed: 1024, Total: 2048}, tr.Current())

	// channels are independent
	assert.Equal(t, domain.Progress{Completed: 25, Total: 100}, tr.Overall())
}

func TestTracker_IgnoredLeavesStateUntouched(t *testing.T) {
	tr := NewTracker()
	tr.Apply(ParseLine("[1/4] (25%) Finished"))

	assert.False(t, tr.Apply(ParseLine("[1/4] (250%) Finished")))
	assert.False(t, tr.Apply(ParseLine("Receiving files")))
	assert.Equal(t, domain.Progress{Completed: 25, Total: 100}, tr.Overall())
	assert.Empty(t, tr.Logs())
}

func TestTracker_LogsKeepArrivalOrder(t *testing.T) {
	tr := NewTracker()
	for _, line := range []string{"first", "Receiving files", "second", "", "third"} {
		tr.Apply(ParseLine(line))
	}

	logs := tr.Logs()
	texts := make([]string, 0, len(logs))
	for _, l := range logs {
		texts = append(texts, l.Text)
	}
	assert.Equal(t, []string{"first", "second", "third"}, texts)
}
