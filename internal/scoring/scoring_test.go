package scoring

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMicroF1WorkedExample(t *testing.T) {
	gold := []string{"OFF", "NOT", "OFF", "NOT"}
	pred := []string{"OFF", "NOT", "NOT", "NOT"}

	assert.InDelta(t, 0.75, MicroF1(gold, pred), 1e-9)

	// OFF-only view: rows whose gold label is OFF.
	assert.InDelta(t, 0.5, MicroF1([]string{"OFF", "OFF"}, []string{"OFF", "NOT"}), 1e-9)
	// NOT-only view.
	assert.InDelta(t, 1.0, MicroF1([]string{"NOT", "NOT"}, []string{"NOT", "NOT"}), 1e-9)
}

func TestMicroF1AllWrong(t *testing.T) {
	gold := []string{"OFF", "NOT"}
	pred := []string{"NOT", "OFF"}
	assert.Equal(t, 0.0, MicroF1(gold, pred))
}

func rows(gold ...string) []Row {
	out := make([]Row, len(gold))
	for i, g := range gold {
		out[i] = Row{Gold: g}
	}
	return out
}

func TestAggregateViewsMatchSpecExample(t *testing.T) {
	gold := rows("OFF", "NOT", "OFF", "NOT")
	seeds := [][]string{{"OFF", "NOT", "NOT", "NOT"}}

	table, err := Aggregate(gold, seeds, GroupByNone)
	require.NoError(t, err)
	require.Contains(t, table, "__ALL__")

	got := table["__ALL__"]
	assert.InDelta(t, 0.75, got["ALL"].Mean, 1e-9)
	assert.InDelta(t, 0.5, got["OFF"].Mean, 1e-9)
	assert.InDelta(t, 1.0, got["NOT"].Mean, 1e-9)
}

func TestAggregateStdZeroWhenSeedsAgree(t *testing.T) {
	gold := rows("OFF", "NOT", "OFF", "NOT")
	preds := []string{"OFF", "NOT", "NOT", "NOT"}
	seeds := [][]string{preds, preds, preds}

	table, err := Aggregate(gold, seeds, GroupByNone)
	require.NoError(t, err)
	for view, st := range table["__ALL__"] {
		assert.Zerof(t, st.Std, "view %s", view)
	}
}

func TestAggregateMeanBetweenMinAndMax(t *testing.T) {
	gold := rows("OFF", "NOT", "OFF", "NOT")
	seeds := [][]string{
		{"OFF", "NOT", "OFF", "NOT"}, // perfect
		{"OFF", "NOT", "NOT", "NOT"}, // 0.75
		{"NOT", "OFF", "NOT", "OFF"}, // 0
	}
	table, err := Aggregate(gold, seeds, GroupByNone)
	require.NoError(t, err)

	all := table["__ALL__"]["ALL"]
	assert.GreaterOrEqual(t, all.Mean, 0.0)
	assert.LessOrEqual(t, all.Mean, 1.0)
	assert.InDelta(t, (1.0+0.75+0)/3, all.Mean, 1e-9)
	assert.Greater(t, all.Std, 0.0)
}

func TestAggregateBucketsUntaggedRowsUnderUnknown(t *testing.T) {
	gold := []Row{
		{Gold: "OFF", Category: "Subjectivity"},
		{Gold: "NOT", Category: ""},
		{Gold: "OFF", Category: "Subjectivity"},
		{Gold: "NOT"},
	}
	seeds := [][]string{{"OFF", "NOT", "OFF", "OFF"}}

	table, err := Aggregate(gold, seeds, GroupByCategory)
	require.NoError(t, err)
	require.Contains(t, table, "Subjectivity")
	require.Contains(t, table, "unknown")

	assert.InDelta(t, 1.0, table["Subjectivity"]["ALL"].Mean, 1e-9)
	assert.InDelta(t, 0.5, table["unknown"]["ALL"].Mean, 1e-9)
	// The unknown group has no gold-OFF rows: no OFF view, no crash.
	assert.NotContains(t, table["unknown"], "OFF")
}

func TestAggregateExcludesRowsWithoutPrediction(t *testing.T) {
	gold := rows("OFF", "NOT", "OFF", "NOT")
	// Short file: last row uncovered. Empty string: row two uncovered.
	seeds := [][]string{{"OFF", "", "OFF"}}

	table, err := Aggregate(gold, seeds, GroupByNone)
	require.NoError(t, err)
	// Remaining rows (1 and 3) are both predicted correctly.
	assert.InDelta(t, 1.0, table["__ALL__"]["ALL"].Mean, 1e-9)
	// No NOT-gold row survives the exclusion.
	assert.NotContains(t, table["__ALL__"], "NOT")
}

func TestAggregateNoRunsIsError(t *testing.T) {
	_, err := Aggregate(rows("OFF"), nil, GroupByNone)
	assert.Error(t, err)
}

func TestParsePredictionsTakesLastField(t *testing.T) {
	in := "some text\tOFF\nother text\tA0\tNOT\nOFF\n"
	preds, err := ParsePredictions(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"OFF", "NOT", "OFF"}, preds)
}

func TestParseGroupBy(t *testing.T) {
	for _, ok := range []string{"none", "category", "subtype"} {
		_, err := ParseGroupBy(ok)
		assert.NoError(t, err)
	}
	_, err := ParseGroupBy("agreement")
	assert.Error(t, err)
}

func TestScoreEndToEndDeterministic(t *testing.T) {
	dir := t.TempDir()
	gold := filepath.Join(dir, "test.tsv")
	goldRows := []string{
		"a text\tOFF\tA++\tA++_OFF\tSubjectivity\tSarcasm",
		"b text\tNOT\tA0\tA0_NOT\tSubjectivity\tSarcasm",
		"c text\tOFF\tA+\tA+_OFF\t\t",
		"d text\tNOT\tA++\tA++_NOT\tAmbiguity\tSlang",
	}
	require.NoError(t, os.WriteFile(gold, []byte(strings.Join(goldRows, "\n")+"\n"), 0o644))

	writePreds := func(name string, labels ...string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name),
			[]byte(strings.Join(labels, "\n")+"\n"), 0o644))
	}
	writePreds("seed01.pred", "OFF", "NOT", "NOT", "NOT")
	writePreds("seed02.pred", "OFF", "OFF", "OFF", "NOT")

	table, err := Score(gold, filepath.Join(dir, "seed*.pred"), GroupByCategory)
	require.NoError(t, err)
	require.Contains(t, table, "Subjectivity")
	require.Contains(t, table, "Ambiguity")
	require.Contains(t, table, "unknown")

	// Subjectivity ALL: seed1 1.0, seed2 0.5.
	assert.InDelta(t, 0.75, table["Subjectivity"]["ALL"].Mean, 1e-9)
	assert.InDelta(t, 0.25, table["Subjectivity"]["ALL"].Std, 1e-9)

	again, err := Score(gold, filepath.Join(dir, "seed*.pred"), GroupByCategory)
	require.NoError(t, err)
	b1, err := MarshalTable(table)
	require.NoError(t, err)
	b2, err := MarshalTable(again)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestScoreNoPredictionFiles(t *testing.T) {
	dir := t.TempDir()
	gold := filepath.Join(dir, "test.tsv")
	require.NoError(t, os.WriteFile(gold, []byte("x\tOFF\n"), 0o644))

	_, err := Score(gold, filepath.Join(dir, "seed*.pred"), GroupByNone)
	assert.ErrorContains(t, err, "no prediction files")
}
