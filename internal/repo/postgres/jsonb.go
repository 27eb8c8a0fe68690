package postgres

import "encoding/json"

// marshalJSONB renders a nil-safe JSONB payload: a nil map becomes a SQL
// NULL instead of the literal "null", which keeps JSONB columns that
// allow NULL free of the JSON null scalar.
func marshalJSONB(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalJSONB(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
