package execmodel

import "encoding/json"

// PreparedMeta is the JSON shape persisted into HandlerRun.PrepareResult: the
// reservations a consumer's prepare() requested plus the UI title for any
// mutation it may perform (spec.md §4.3 "persists prepare_result").
type PreparedMeta struct {
	Reservations []Reservation `json:"reservations"`
	UITitle      string        `json:"ui_title,omitempty"`
}

// EncodePreparedMeta marshals m for storage on HandlerRun.PrepareResult.
func EncodePreparedMeta(m PreparedMeta) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

// DecodePreparedMeta unmarshals a HandlerRun.PrepareResult blob. An empty
// blob decodes to the zero value.
func DecodePreparedMeta(b []byte) (PreparedMeta, error) {
	var m PreparedMeta
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return PreparedMeta{}, err
	}
	return m, nil
}
