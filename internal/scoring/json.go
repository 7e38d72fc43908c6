package scoring

import "encoding/json"

// MarshalTable renders a table as indented JSON. Map keys marshal in sorted
// order, so identical inputs produce identical bytes.
func MarshalTable(table Table) ([]byte, error) {
	b, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
