package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UpdateRequest is a decoded flat parameter update: numeric fields plus the
// optional session start date/time strings.
type UpdateRequest struct {
	Fields    map[string]float64
	StartDate string
	StartTime string
}

// DecodeUpdate parses the flat JSON object the dashboard sends on both the
// WebSocket and REST surfaces. Booleans coerce to 0/1, matching the bay
// occupancy toggles.
func DecodeUpdate(raw []byte) (UpdateRequest, error) {
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return UpdateRequest{}, fmt.Errorf("invalid update payload: %w", err)
	}

	req := UpdateRequest{Fields: make(map[string]float64, len(flat))}
	for name, value := range flat {
		switch name {
		case "start_date", "start_time", "initial_start_date", "initial_start_time":
			s, ok := value.(string)
			if !ok {
				return UpdateRequest{}, fmt.Errorf("field %q: string value required", name)
			}
			if strings.HasSuffix(name, "date") {
				req.StartDate = s
			} else {
				req.StartTime = s
			}
		default:
			switch v := value.(type) {
			case float64:
				req.Fields[name] = v
			case bool:
				if v {
					req.Fields[name] = 1.0
				} else {
					req.Fields[name] = 0.0
				}
			default:
				return UpdateRequest{}, fmt.Errorf("field %q: numeric value required", name)
			}
		}
	}
	return req, nil
}
