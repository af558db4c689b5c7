package solver

import (
	"slices"

	"github.com/GoSim-25-26J-441/hyperopt/internal/ledger"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

// Fixed leading columns of the history table
const (
	ColumnTID        = "tid"
	ColumnDurationMs = "duration_ms"
	ColumnLoss       = "loss"
	ColumnStatus     = "status"
)

// HistoryTable is the trial history in tabular form: the fixed columns
// followed by one column per hyperparameter in space order. Categorical
// columns hold the declared labels.
type HistoryTable struct {
	Columns []string
	Rows    [][]any
}

// Column returns every value of the named column, or nil
func (h HistoryTable) Column(name string) []any {
	i := slices.Index(h.Columns, name)
	if i < 0 {
		return nil
	}
	out := make([]any, len(h.Rows))
	for r, row := range h.Rows {
		out[r] = row[i]
	}
	return out
}

// Len returns the number of rows
func (h HistoryTable) Len() int {
	return len(h.Rows)
}

// Results is the outcome of a run
type Results struct {
	RunID    string
	Strategy string
	History  HistoryTable
	Trials   []ledger.Trial
	Best     map[string]any
	BestLoss float64
	BestTID  int
	HasBest  bool
	Stats    ledger.Stats
	// StopReason says why the run ended
	StopReason string
}

func buildHistory(names []string, trials []ledger.Trial) HistoryTable {
	cols := append([]string{ColumnTID, ColumnDurationMs, ColumnLoss, ColumnStatus}, names...)
	rows := make([][]any, len(trials))
	for i, t := range trials {
		row := make([]any, 0, len(cols))
		row = append(row, t.TID, utils.Millis(t.Duration()), t.Loss, string(t.Status))
		for _, n := range names {
			v, _ := t.Params.Get(n)
			row = append(row, v)
		}
		rows[i] = row
	}
	return HistoryTable{Columns: cols, Rows: rows}
}
