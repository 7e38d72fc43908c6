// Package scoring aggregates per-seed prediction files into group-wise
// mean/std micro-F1 tables.
package scoring

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Labels of the binary offense task.
const (
	LabelOff = "OFF"
	LabelNot = "NOT"
)

// Views of a group: every row, or only the rows whose gold label is
// OFF/NOT. The metric is always micro-F1 within the view's rows.
var views = []string{"ALL", LabelOff, LabelNot}

// GroupBy selects the grouping key of the test rows.
type GroupBy string

const (
	GroupByNone     GroupBy = "none"
	GroupByCategory GroupBy = "category"
	GroupBySubtype  GroupBy = "subtype"
)

// ParseGroupBy validates a group_by string.
func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(s) {
	case GroupByNone, GroupByCategory, GroupBySubtype:
		return GroupBy(s), nil
	}
	return "", fmt.Errorf("unknown group_by %q (want none, category or subtype)", s)
}

// Names of the implicit groups.
const (
	allGroup     = "__ALL__" // group_by=none puts every row here
	unknownGroup = "unknown" // rows without a group tag land here, never dropped
)

// Row is one gold test example.
type Row struct {
	Gold     string
	Category string
	Subtype  string
}

// Column indices in the normalized test TSV.
const (
	goldColumn     = 1
	categoryColumn = 4
	subtypeColumn  = 5
)

// ReadGold loads the gold test split. Lines with fewer than two columns are
// skipped, matching how prediction files were produced.
func ReadGold(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rows []Row
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		parts := strings.Split(sc.Text(), "\t")
		if len(parts) < 2 {
			continue
		}
		r := Row{Gold: parts[goldColumn]}
		if len(parts) > categoryColumn {
			r.Category = parts[categoryColumn]
		}
		if len(parts) > subtypeColumn {
			r.Subtype = parts[subtypeColumn]
		}
		rows = append(rows, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no gold rows in %s", path)
	}
	return rows, nil
}

// ParsePredictions reads predicted labels, one per line. Framework output
// carries the full TSV row; the label is the last field.
func ParsePredictions(r io.Reader) ([]string, error) {
	var preds []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if i := strings.LastIndex(line, "\t"); i >= 0 {
			line = strings.TrimSpace(line[i+1:])
		}
		preds = append(preds, line)
	}
	return preds, sc.Err()
}

// ReadPredictions loads one prediction file from disk.
func ReadPredictions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParsePredictions(f)
}

func (r Row) groupKey(by GroupBy) string {
	var key string
	switch by {
	case GroupByCategory:
		key = strings.TrimSpace(r.Category)
	case GroupBySubtype:
		key = strings.TrimSpace(r.Subtype)
	default:
		return allGroup
	}
	if key == "" {
		return unknownGroup
	}
	return key
}

// groupIndices buckets row indices by group key.
func groupIndices(rows []Row, by GroupBy) map[string][]int {
	groups := make(map[string][]int)
	for i, r := range rows {
		key := r.groupKey(by)
		groups[key] = append(groups[key], i)
	}
	return groups
}

// MicroF1 computes F1 over pooled per-class TP/FP/FN counts for the OFF and
// NOT classes. gold and pred must be parallel.
func MicroF1(gold, pred []string) float64 {
	var tp, fp, fn float64
	for _, class := range []string{LabelOff, LabelNot} {
		for i := range gold {
			switch {
			case gold[i] == class && pred[i] == class:
				tp++
			case gold[i] != class && pred[i] == class:
				fp++
			case gold[i] == class && pred[i] != class:
				fn++
			}
		}
	}
	if tp == 0 {
		return 0
	}
	precision := tp / (tp + fp)
	recall := tp / (tp + fn)
	return 2 * precision * recall / (precision + recall)
}

// Stat is the across-seed summary of one metric.
type Stat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"` // population standard deviation
}

// Table maps group key -> view -> across-seed stats.
type Table map[string]map[string]Stat

// viewIndices restricts a group's rows to one view. idx already excludes
// rows without a prediction for this seed.
func viewIndices(rows []Row, idx []int, view string) []int {
	if view == "ALL" {
		return idx
	}
	var out []int
	for _, i := range idx {
		if rows[i].Gold == view {
			out = append(out, i)
		}
	}
	return out
}

// scoreSeed computes per-group, per-view micro-F1 for one seed's
// predictions. Rows whose prediction is missing or empty are excluded from
// this seed's computation.
func scoreSeed(rows []Row, preds []string, groups map[string][]int) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(groups))
	for name, idx := range groups {
		covered := make([]int, 0, len(idx))
		for _, i := range idx {
			if i < len(preds) && preds[i] != "" {
				covered = append(covered, i)
			}
		}
		for _, view := range views {
			vi := viewIndices(rows, covered, view)
			if len(vi) == 0 {
				continue
			}
			gold := make([]string, len(vi))
			pred := make([]string, len(vi))
			for k, i := range vi {
				gold[k] = rows[i].Gold
				pred[k] = preds[i]
			}
			if out[name] == nil {
				out[name] = make(map[string]float64, len(views))
			}
			out[name][view] = MicroF1(gold, pred)
		}
	}
	return out
}

// Aggregate scores every seed's predictions against the gold rows and
// summarizes each (group, view) metric across seeds. A (group, view) with
// no rows in any seed is absent from the table.
func Aggregate(rows []Row, seeds [][]string, by GroupBy) (Table, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no prediction runs to aggregate")
	}
	groups := groupIndices(rows, by)

	samples := make(map[string]map[string][]float64)
	for _, preds := range seeds {
		perGroup := scoreSeed(rows, preds, groups)
		for name, byView := range perGroup {
			if samples[name] == nil {
				samples[name] = make(map[string][]float64)
			}
			for view, f1 := range byView {
				samples[name][view] = append(samples[name][view], f1)
			}
		}
	}

	table := make(Table, len(samples))
	for name, byView := range samples {
		table[name] = make(map[string]Stat, len(byView))
		for view, vals := range byView {
			table[name][view] = Stat{
				Mean: stat.Mean(vals, nil),
				Std:  stat.PopStdDev(vals, nil),
			}
		}
	}
	return table, nil
}

// Score reads the gold split and every prediction file matching predGlob
// (sorted for determinism) and aggregates them. Unreadable prediction files
// are logged and skipped; the aggregation proceeds with whatever seeds
// succeeded.
func Score(goldPath, predGlob string, by GroupBy) (Table, error) {
	rows, err := ReadGold(goldPath)
	if err != nil {
		return nil, fmt.Errorf("read gold %s: %w", goldPath, err)
	}
	paths, err := filepath.Glob(predGlob)
	if err != nil {
		return nil, fmt.Errorf("bad glob %q: %w", predGlob, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no prediction files matched %q", predGlob)
	}
	// filepath.Glob returns sorted paths already; keep the invariant explicit.
	var seeds [][]string
	for _, p := range paths {
		preds, err := ReadPredictions(p)
		if err != nil {
			log.Printf("skip predictions %s: %v", p, err)
			continue
		}
		if len(preds) != len(rows) {
			log.Printf("predictions %s: %d labels for %d gold rows; uncovered rows excluded", p, len(preds), len(rows))
		}
		seeds = append(seeds, preds)
	}
	return Aggregate(rows, seeds, by)
}

// WriteJSON writes the table as indented JSON with deterministic key order.
func WriteJSON(path string, table Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := MarshalTable(table)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
