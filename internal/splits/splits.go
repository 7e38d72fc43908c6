// Package splits derives the training-data variants for the disagreement
// experiments. Each variant keeps a different slice of the train split;
// dev and test are copied into every variant directory unchanged.
package splits

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Column layout of the normalized TSV (see internal/dataset).
const (
	colText = iota
	colLabel
	colAgreement
	colAgr6
	colCategory
	colSubtype
)

// Variant selects rows from the normalized train split.
type Variant struct {
	Name string
	Keep func(row []string) bool
}

func tierIn(row []string, tiers ...string) bool {
	for _, t := range tiers {
		if row[colAgreement] == t {
			return true
		}
	}
	return false
}

func normKey(v string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(v)), " ", "_")
}

func categoryIs(row []string, key string) bool {
	return normKey(row[colCategory]) == normKey(key)
}

// Variants returns the five experiment variants in a fixed order: full
// agreement only, everything, and full agreement plus the A0 rows of one
// taxonomy category each.
func Variants() []Variant {
	a0WithCategory := func(key string) func([]string) bool {
		return func(row []string) bool {
			return tierIn(row, "A++", "A+") || (tierIn(row, "A0") && categoryIs(row, key))
		}
	}
	return []Variant{
		{Name: "App", Keep: func(row []string) bool { return tierIn(row, "A++", "A+") }},
		{Name: "App_A0all", Keep: func(row []string) bool { return true }},
		{Name: "App_A0_SUBJ", Keep: a0WithCategory("Subjectivity")},
		{Name: "App_A0_MISS", Keep: a0WithCategory("Missing_Info")},
		{Name: "App_A0_AMB", Keep: a0WithCategory("Ambiguity")},
	}
}

// ReadTSV yields the rows of a normalized split, skipping lines with fewer
// than six columns.
func ReadTSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rows [][]string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		parts := strings.Split(sc.Text(), "\t")
		if len(parts) < 6 {
			continue
		}
		rows = append(rows, parts)
	}
	return rows, sc.Err()
}

// WriteTSV writes rows tab-joined, creating parent directories.
func WriteTSV(path string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, row := range rows {
		if _, err := w.WriteString(strings.Join(row, "\t") + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// Build writes every variant under outRoot/<name>/{train,dev,test}.tsv and
// returns each variant's train size keyed by name.
func Build(baseDir, outRoot string) (map[string]int, error) {
	trainRows, err := ReadTSV(filepath.Join(baseDir, "train.tsv"))
	if err != nil {
		return nil, fmt.Errorf("read train split: %w", err)
	}

	sizes := make(map[string]int)
	for _, v := range Variants() {
		kept := make([][]string, 0, len(trainRows))
		for _, row := range trainRows {
			if v.Keep(row) {
				kept = append(kept, row)
			}
		}
		outDir := filepath.Join(outRoot, v.Name)
		if err := WriteTSV(filepath.Join(outDir, "train.tsv"), kept); err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.Name, err)
		}
		for _, name := range []string{"dev.tsv", "test.tsv"} {
			if err := copyFile(filepath.Join(baseDir, name), filepath.Join(outDir, name)); err != nil {
				return nil, fmt.Errorf("variant %s: copy %s: %w", v.Name, name, err)
			}
		}
		sizes[v.Name] = len(kept)
	}
	return sizes, nil
}
