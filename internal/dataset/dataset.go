// Package dataset normalizes raw MD-Agreement splits into the 8-column
// TSV format the training framework consumes.
package dataset

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	idDigits   = regexp.MustCompile(`^(\d+)`)
	annotSplit = regexp.MustCompile(`[;,/\\|\s]+`)
)

var validSplits = map[string]bool{"train": true, "dev": true, "test": true}

var splitAliases = map[string]string{
	"training":    "train",
	"trainset":    "train",
	"development": "dev",
	"devset":      "dev",
	"validation":  "dev",
	"val":         "dev",
	"testing":     "test",
}

// SniffDelimiter picks tab or comma based on the first 4 KiB of the file.
func SniffDelimiter(path string) (rune, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	head := make([]byte, 4096)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return 0, err
	}
	head = head[:n]
	tabs := strings.Count(string(head), "\t")
	commas := strings.Count(string(head), ",")
	if tabs > 0 && tabs >= commas {
		return '\t', nil
	}
	return ',', nil
}

// NormalizeLabel maps raw offensive labels to OFF/NOT.
func NormalizeLabel(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "off", "offensive", "1", "true", "toxic":
		return "OFF", nil
	case "not", "non-offensive", "0", "false", "clean", "none":
		return "NOT", nil
	}
	return "", fmt.Errorf("unrecognized label: %q", raw)
}

// MajorityAgreement derives the majority label and agreement tier from
// exactly five annotator votes: 5-0 -> A++, 4-1 -> A+, 3-2 -> A0.
func MajorityAgreement(votes []string) (label, tier string, err error) {
	if len(votes) != 5 {
		return "", "", fmt.Errorf("expected 5 annotator labels to derive majority/agreement, got %v", votes)
	}
	counts := map[string]int{}
	for _, v := range votes {
		counts[v]++
	}
	best, bestN := "", 0
	for v, n := range counts {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	switch bestN {
	case 5:
		tier = "A++"
	case 4:
		tier = "A+"
	case 3:
		tier = "A0"
	default:
		return "", "", fmt.Errorf("unexpected vote distribution: %v", counts)
	}
	return best, tier, nil
}

func normalizeSplitName(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	if mapped, ok := splitAliases[v]; ok {
		v = mapped
	}
	if validSplits[v] {
		return v
	}
	return ""
}

// ParseIdentifier splits a raw identifier into its numeric base and an
// optional embedded split name ("1234_train" -> "1234", "train").
func ParseIdentifier(identifier string) (base, split string) {
	text := strings.TrimSpace(identifier)
	if text == "" {
		return "", ""
	}
	base = text
	if m := idDigits.FindStringSubmatch(text); m != nil {
		base = m[1]
	}
	for _, sep := range []string{"_", "-"} {
		if i := strings.LastIndex(text, sep); i >= 0 {
			if s := normalizeSplitName(text[i+1:]); s != "" {
				return base, s
			}
		}
	}
	return base, ""
}

// ParseVoteField parses annotator labels packed into a single delimited
// field. Returns nil when the field holds fewer than two votes.
func ParseVoteField(value string) ([]string, error) {
	text := strings.TrimSpace(value)
	if text == "" {
		return nil, nil
	}
	text = strings.Trim(text, `[](){}"'`)
	if text == "" {
		return nil, nil
	}
	parts := annotSplit.Split(text, -1)
	votes := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, `"'`)
		if p == "" {
			continue
		}
		votes = append(votes, p)
	}
	if len(votes) <= 1 {
		return nil, nil
	}
	for i, v := range votes {
		norm, err := NormalizeLabel(v)
		if err != nil {
			return nil, err
		}
		votes[i] = norm
	}
	return votes, nil
}

// Options names the input columns and controls label derivation.
type Options struct {
	IDColumn         string
	TextColumn       string
	GoldColumn       string   // optional; single OFF/NOT value or a 5-vote sequence
	AgreementColumn  string   // optional; A++/A+/A0
	AnnotatorColumns []string // optional; five dedicated vote columns
	AnnotationsField string   // optional; one field with packed votes
	PreferTaxonomy   bool     // taxonomy agreement wins over row columns
}

type dictReader struct {
	r      *csv.Reader
	header map[string]int
}

func newDictReader(f io.Reader, delim rune) (*dictReader, error) {
	r := csv.NewReader(f)
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	head, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header := make(map[string]int, len(head))
	for i, name := range head {
		header[strings.TrimSpace(name)] = i
	}
	return &dictReader{r: r, header: header}, nil
}

// get returns the named field or "" if the column is absent or the row short.
func (d *dictReader) get(rec []string, col string) string {
	i, ok := d.header[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func (d *dictReader) require(cols ...string) error {
	for _, c := range cols {
		if c == "" {
			continue
		}
		if _, ok := d.header[c]; !ok {
			return fmt.Errorf("missing required column %q (have: %s)", c, strings.Join(d.columns(), ", "))
		}
	}
	return nil
}

func (d *dictReader) columns() []string {
	out := make([]string, len(d.header))
	for name, i := range d.header {
		if i < len(out) {
			out[i] = name
		}
	}
	return out
}

func collectVotes(d *dictReader, rec []string, opts Options) ([]string, error) {
	if len(opts.AnnotatorColumns) > 0 {
		votes := make([]string, 0, len(opts.AnnotatorColumns))
		for _, col := range opts.AnnotatorColumns {
			raw := strings.TrimSpace(d.get(rec, col))
			if raw == "" {
				return nil, fmt.Errorf("missing annotator column %q in row %v", col, rec)
			}
			v, err := NormalizeLabel(raw)
			if err != nil {
				return nil, err
			}
			votes = append(votes, v)
		}
		return votes, nil
	}
	if opts.AnnotationsField != "" {
		return ParseVoteField(d.get(rec, opts.AnnotationsField))
	}
	return nil, nil
}

// ProcessSplit converts one raw MD-Agreement split into framework TSV format,
// returning the number of rows written. Rows whose embedded split name
// contradicts expectedSplit are skipped.
func ProcessSplit(inPath, outPath string, tax Taxonomy, opts Options, expectedSplit string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, err
	}
	delim, err := SniffDelimiter(inPath)
	if err != nil {
		return 0, fmt.Errorf("sniff %s: %w", inPath, err)
	}
	in, err := os.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	d, err := newDictReader(in, delim)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", inPath, err)
	}
	if err := d.require(opts.IDColumn, opts.TextColumn); err != nil {
		return 0, fmt.Errorf("%s: %w", inPath, err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	expectedSplit = normalizeSplitName(expectedSplit)
	written := 0
	for {
		rec, err := d.r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, fmt.Errorf("%s: %w", inPath, err)
		}
		row, skip, err := normalizeRow(d, rec, tax, opts, expectedSplit)
		if err != nil {
			return written, fmt.Errorf("%s: %w", inPath, err)
		}
		if skip {
			continue
		}
		if _, err := w.WriteString(strings.Join(row, "\t") + "\n"); err != nil {
			return written, err
		}
		written++
	}
	if err := w.Flush(); err != nil {
		return written, err
	}
	return written, nil
}

func normalizeRow(d *dictReader, rec []string, tax Taxonomy, opts Options, expectedSplit string) ([]string, bool, error) {
	baseID, rowSplit := ParseIdentifier(d.get(rec, opts.IDColumn))
	if expectedSplit != "" {
		if rowSplit != "" && rowSplit != expectedSplit {
			return nil, true, nil
		}
		if rowSplit == "" {
			rowSplit = expectedSplit
		}
	}

	text := strings.TrimSpace(strings.ReplaceAll(d.get(rec, opts.TextColumn), "\n", " "))

	votes, err := collectVotes(d, rec, opts)
	if err != nil {
		return nil, false, err
	}
	var derivedLabel, derivedTier string
	if len(votes) > 0 {
		derivedLabel, derivedTier, err = MajorityAgreement(votes)
		if err != nil {
			return nil, false, err
		}
	}

	var offensive, goldTier string
	if opts.GoldColumn != "" {
		if raw := strings.TrimSpace(d.get(rec, opts.GoldColumn)); raw != "" {
			goldVotes, err := ParseVoteField(raw)
			if err != nil {
				return nil, false, err
			}
			if len(goldVotes) > 0 {
				if len(goldVotes) != 5 {
					return nil, false, fmt.Errorf("expected 5 annotator labels in %q, got %v", opts.GoldColumn, goldVotes)
				}
				offensive, goldTier, err = MajorityAgreement(goldVotes)
				if err != nil {
					return nil, false, err
				}
				if len(votes) == 0 {
					derivedLabel, derivedTier = offensive, goldTier
				}
			} else {
				offensive, err = NormalizeLabel(raw)
				if err != nil {
					return nil, false, err
				}
			}
		}
	}
	if offensive == "" {
		offensive = derivedLabel
	}
	if offensive == "" {
		return nil, false, fmt.Errorf("need gold or annotator labels to derive OFF/NOT (row %v)", rec)
	}

	info := tax.Lookup(baseID, rowSplit)

	agreement := ""
	switch {
	case opts.PreferTaxonomy && info.Agreement != "":
		agreement = info.Agreement
	case opts.AgreementColumn != "" && strings.TrimSpace(d.get(rec, opts.AgreementColumn)) != "":
		agreement = strings.TrimSpace(d.get(rec, opts.AgreementColumn))
	case goldTier != "":
		agreement = goldTier
	case derivedTier != "":
		agreement = derivedTier
	}

	agr6 := ""
	if agreement != "" {
		agr6 = agreement + "_" + offensive
	}

	return []string{
		text,
		offensive,
		agreement,
		agr6,
		info.PrimaryCategory,
		info.PrimarySubtype,
		info.SecondaryCategory,
		info.SecondarySubtype,
	}, false, nil
}
