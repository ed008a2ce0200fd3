package export

import (
	"sort"

	"github.com/Sternrassler/plantwatch/pkg/plant"
)

// RowsFromSnapshots flattens day snapshot sets into rows ordered by
// timestamp. Nil sets are skipped.
func RowsFromSnapshots(sets []*plant.SnapshotSet) []Row {
	var n int
	for _, s := range sets {
		if s != nil {
			n += len(s.Samples)
		}
	}

	rows := make([]Row, 0, n)
	for _, s := range sets {
		if s == nil {
			continue
		}
		for _, sample := range s.Samples {
			rows = append(rows, Row{Timestamp: sample.Timestamp, Values: sample.Values})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	return rows
}
