package reporting

import "time"

// Table is the cohort table at one height: one row per cohort, one column
// per metric.
type Table struct {
	// Metadata
	GeneratedAt time.Time
	Height      uint64
	Timestamp   int64 // block time of Height, 0 when the time index is not stored

	Metrics []string    // column order
	Rows    []CohortRow // taxonomy order
}

// CohortRow represents one cohort in the table. Values holds the formatted
// value of each metric; metrics the cohort does not carry are absent.
type CohortRow struct {
	Cohort string
	Family string
	Values map[string]string
}

// SeriesTable is the history of one cohort over a height range: one row per
// height, one column per metric.
type SeriesTable struct {
	GeneratedAt time.Time
	Cohort      string
	From        uint64 // first height of Rows
	Metrics     []string
	Rows        [][]string // Rows[i][j] is Metrics[j] at height From+i
}
