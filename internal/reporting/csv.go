package reporting

import (
	"encoding/csv"
	"io"
	"strconv"
)

// WriteCSV writes the cohort table as CSV: a cohort column, a family column
// and one column per metric. Absent values are empty fields.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)

	header := append([]string{"cohort", "family"}, t.Metrics...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range t.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, r.Cohort, r.Family)
		for _, m := range t.Metrics {
			rec = append(rec, r.Values[m])
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSeriesCSV writes a cohort history as CSV with a leading height column.
func WriteSeriesCSV(w io.Writer, st *SeriesTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"height"}, st.Metrics...)); err != nil {
		return err
	}
	for i, row := range st.Rows {
		rec := append([]string{strconv.FormatUint(st.From+uint64(i), 10)}, row...)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
