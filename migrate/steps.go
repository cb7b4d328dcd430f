package migrate

// UnwrapEnvelope unwraps legacy `{<markerField>: ..., <dataField>: ...}`
// envelopes. Values without both fields are left alone.
func UnwrapEnvelope(dataField, markerField string) Step {
	return StepFunc(func(raw any) (any, error) {
		record, ok := raw.(map[string]any)
		if !ok {
			return nil, nil
		}
		if _, ok := record[markerField]; !ok {
			return nil, nil
		}
		data, ok := record[dataField]
		if !ok {
			return nil, nil
		}
		return data, nil
	})
}

// RenameField moves a top-level field from one name to another, keeping any
// value already present under the new name.
func RenameField(from, to string) Step {
	return StepFunc(func(raw any) (any, error) {
		record, ok := raw.(map[string]any)
		if !ok {
			return nil, nil
		}
		value, ok := record[from]
		if !ok {
			return nil, nil
		}
		out := make(map[string]any, len(record))
		for k, v := range record {
			if k == from {
				continue
			}
			out[k] = v
		}
		if _, exists := out[to]; !exists {
			out[to] = value
		}
		return out, nil
	})
}
