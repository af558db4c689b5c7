package ledger

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

// Stats are timing figures derived from the ledger on demand
type Stats struct {
	Trials       int
	OK           int
	Failed       int
	MeanDuration time.Duration
	BlackBoxTime time.Duration
	Wall         time.Duration
	Overhead     time.Duration
}

// Stats derives timing statistics for a run that took wall. Black-box time
// is the union of trial intervals, so concurrent trials are not double
// counted; overhead is what remains of wall and never goes negative.
func (l *Ledger) Stats(wall time.Duration) Stats {
	trials := l.History()

	s := Stats{Trials: len(trials), Wall: wall}
	if len(trials) == 0 {
		s.Overhead = wall
		return s
	}

	durations := make([]float64, len(trials))
	spans := make([]utils.Interval, len(trials))
	for i, t := range trials {
		durations[i] = float64(t.Duration())
		spans[i] = utils.Interval{Start: t.BookTime, End: t.RefreshTime}
		if t.Status == StatusOK {
			s.OK++
		} else {
			s.Failed++
		}
	}

	s.MeanDuration = time.Duration(stat.Mean(durations, nil))
	s.BlackBoxTime = utils.UnionDuration(spans)
	s.Overhead = max(wall-s.BlackBoxTime, 0)
	return s
}
