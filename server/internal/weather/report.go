package weather

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/livefeed/livefeed/pkg/types"
)

// Report is the snapshot payload: weather[0], main and wind, each carried
// through exactly as the upstream sent it.
type Report struct {
	Weather json.RawMessage `json:"weather"`
	Main    json.RawMessage `json:"main"`
	Wind    json.RawMessage `json:"wind"`
}

// response is the subset of the upstream body we read.
type response struct {
	Weather []json.RawMessage `json:"weather"`
	Main    json.RawMessage   `json:"main"`
	Wind    json.RawMessage   `json:"wind"`
}

// Parse decodes an OpenWeatherMap current-weather body into a Report. Only
// the shape is checked: weather must be a non-empty array of objects and
// main and wind must be objects. Their contents are not interpreted.
func Parse(body []byte) (Report, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return Report{}, fmt.Errorf("%w: decode body: %v", types.ErrParse, err)
	}
	if len(r.Weather) == 0 {
		return Report{}, fmt.Errorf("%w: weather is missing or empty", types.ErrParse)
	}
	if !isObject(r.Weather[0]) {
		return Report{}, fmt.Errorf("%w: weather[0] is not an object", types.ErrParse)
	}
	if !isObject(r.Main) {
		return Report{}, fmt.Errorf("%w: main is missing or not an object", types.ErrParse)
	}
	if !isObject(r.Wind) {
		return Report{}, fmt.Errorf("%w: wind is missing or not an object", types.ErrParse)
	}

	return Report{
		Weather: r.Weather[0],
		Main:    r.Main,
		Wind:    r.Wind,
	}, nil
}

// isObject reports whether raw holds a JSON object. Unmarshal has already
// validated the bytes, so the first non-space byte decides.
func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
