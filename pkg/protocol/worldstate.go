package protocol

import "encoding/json"

// StatusDetector decides whether a tool result's data object is a
// world-state report. The check is field-name based: data qualifies when
// it carries at least one configured balance field with a numeric value,
// or one configured inventory field with an object value. Scenarios name
// these fields differently, so the sets are configuration rather than
// protocol. Detection is best-effort UI enrichment; counterparties are
// not obligated to honor any particular shape.
//
// The zero value recognizes nothing.
type StatusDetector struct {
	BalanceFields   []string
	InventoryFields []string
}

// DefaultDetector recognizes the field names used by the stock scenario
// tooling.
func DefaultDetector() StatusDetector {
	return StatusDetector{
		BalanceFields:   []string{"cash", "cash_balance", "balance"},
		InventoryFields: []string{"inventory"},
	}
}

// Extract returns the decoded data object when it qualifies as a
// world-state report. The returned map is the full snapshot; callers
// replace any previous snapshot with it wholesale.
func (det StatusDetector) Extract(data json.RawMessage) (map[string]any, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false
	}
	for _, name := range det.BalanceFields {
		if _, ok := fields[name].(float64); ok {
			return fields, true
		}
	}
	for _, name := range det.InventoryFields {
		if _, ok := fields[name].(map[string]any); ok {
			return fields, true
		}
	}
	return nil, false
}
