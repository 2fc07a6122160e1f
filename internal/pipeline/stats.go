package pipeline

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"spikeflow/internal/ledger"
)

// Outcome is what happened to one recording.
type Outcome struct {
	Recording string
	Bundle    string
	Status    ledger.Status
	Kind      string
	Message   string
	Units     int
	Spikes    int
	Elapsed   time.Duration
}

// Stats summarizes a batch.
type Stats struct {
	RunID      string
	Discovered int
	Done       int
	Skipped    int
	NoUnits    int
	Failed     int
	// Interrupted counts the recording in flight when the batch was cancelled.
	Interrupted int
	Outcomes    []Outcome
	Elapsed     time.Duration
}

func (s *Stats) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case ledger.StatusDone:
		s.Done++
	case ledger.StatusSkipped:
		s.Skipped++
	case ledger.StatusNoUnits:
		s.NoUnits++
	case ledger.StatusFailed:
		s.Failed++
	case ledger.StatusInterrupted:
		s.Interrupted++
	}
}

// TotalSpikes sums spikes across the recordings sorted in this batch.
func (s Stats) TotalSpikes() int {
	total := 0
	for _, o := range s.Outcomes {
		if o.Status == ledger.StatusDone {
			total += o.Spikes
		}
	}
	return total
}

// Summary renders the batch counters on one line.
func (s Stats) Summary() string {
	line := fmt.Sprintf("%s discovered, %s sorted, %s skipped, %s without units, %s failed",
		humanize.Comma(int64(s.Discovered)),
		humanize.Comma(int64(s.Done)),
		humanize.Comma(int64(s.Skipped)),
		humanize.Comma(int64(s.NoUnits)),
		humanize.Comma(int64(s.Failed)),
	)
	if s.Interrupted > 0 {
		line += ", interrupted"
	}
	if spikes := s.TotalSpikes(); spikes > 0 {
		line += fmt.Sprintf(" (%s spikes)", humanize.Comma(int64(spikes)))
	}
	return line
}
