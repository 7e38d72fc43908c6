package dataset

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Info holds the disagreement-taxonomy annotations for one example.
type Info struct {
	Text              string
	Agreement         string
	PrimaryCategory   string
	PrimarySubtype    string
	SecondaryCategory string
	SecondarySubtype  string
}

type taxKey struct {
	base  string
	split string // "" when the row carried no split name
}

// Taxonomy maps (base ID, split) to annotations. The split-specific entry
// wins; entries without a split act as a fallback.
type Taxonomy map[taxKey]Info

// Lookup resolves annotations for an example, falling back to the
// split-agnostic entry. Returns the zero Info when nothing matches.
func (t Taxonomy) Lookup(baseID, split string) Info {
	if baseID == "" {
		return Info{}
	}
	if info, ok := t[taxKey{baseID, split}]; ok {
		return info
	}
	if split != "" {
		return t[taxKey{baseID, ""}]
	}
	return Info{}
}

// LoadTaxonomy reads Category_dataset.tsv. A missing path yields an empty
// taxonomy rather than an error; the taxonomy is optional input.
func LoadTaxonomy(path string) (Taxonomy, error) {
	if path == "" {
		return Taxonomy{}, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Taxonomy{}, nil
	}
	delim, err := SniffDelimiter(path)
	if err != nil {
		return nil, fmt.Errorf("sniff %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := newDictReader(f, delim)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := d.require("ID"); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	tax := Taxonomy{}
	for {
		rec, err := d.r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		base, split := ParseIdentifier(d.get(rec, "ID"))
		if base == "" {
			continue
		}
		// Column names carry the source file's typos.
		tax[taxKey{base, split}] = Info{
			Text:              strings.TrimSpace(d.get(rec, "Text")),
			Agreement:         strings.TrimSpace(d.get(rec, "Agreement_level")),
			PrimaryCategory:   strings.TrimSpace(d.get(rec, "Primary_category")),
			PrimarySubtype:    strings.TrimSpace(d.get(rec, "Primary_subcategry")),
			SecondaryCategory: strings.TrimSpace(d.get(rec, "Secondary_category")),
			SecondarySubtype:  strings.TrimSpace(d.get(rec, "Seconday_subcategory")),
		}
	}
	return tax, nil
}
