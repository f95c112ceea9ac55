package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/invar/internal/ir"
)

// marshalSnapshot converts a context export to canonical JSON TEXT. A nil
// export is stored as NULL.
func marshalSnapshot(snap ir.DocObject) (sql.NullString, error) {
	if snap == nil {
		return sql.NullString{}, nil
	}
	data, err := ir.MarshalCanonical(snap)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalSnapshot decodes stored snapshot TEXT. Numbers stay json.Number
// so u128 values survive the round trip.
func unmarshalSnapshot(data sql.NullString) (map[string]any, error) {
	if !data.Valid {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data.String)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return out, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
