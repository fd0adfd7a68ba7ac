package job

// QueueCounts holds job counts for one queue name.
type QueueCounts struct {
	States map[State]int64 `json:"states"`
	All    int64           `json:"all"`
}

// StateCounts is the monitoring snapshot: totals per state across all
// queues, a grand total, and the same breakdown per queue name.
type StateCounts struct {
	States map[State]int64        `json:"states"`
	All    int64                  `json:"all"`
	Queues map[string]QueueCounts `json:"queues"`
}

// CountRow is one row of the rollup query. A nil Name or State marks a
// subtotal for that dimension.
type CountRow struct {
	Name  *string
	State *State
	Size  int64
}

func zeroStates() map[State]int64 {
	m := make(map[State]int64, len(ordinals))
	for _, s := range States() {
		m[s] = 0
	}
	return m
}

func NewStateCounts() StateCounts {
	return StateCounts{States: zeroStates(), Queues: map[string]QueueCounts{}}
}

// TallyStates folds rollup rows into a StateCounts with every state present.
func TallyStates(rows []CountRow) StateCounts {
	out := NewStateCounts()
	for _, row := range rows {
		if row.Name == nil {
			if row.State == nil {
				out.All = row.Size
			} else {
				out.States[*row.State] = row.Size
			}
			continue
		}
		q, ok := out.Queues[*row.Name]
		if !ok {
			q = QueueCounts{States: zeroStates()}
		}
		if row.State == nil {
			q.All = row.Size
		} else {
			q.States[*row.State] = row.Size
		}
		out.Queues[*row.Name] = q
	}
	return out
}
