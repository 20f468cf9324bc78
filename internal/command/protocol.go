package command

import (
	"encoding/json"
	"fmt"
)

// Request is one line of the command protocol. Optional numeric fields are
// pointers so a missing field can be told apart from zero.
type Request struct {
	Cmd    string `json:"cmd"`
	Action string `json:"action,omitempty"`

	X  *float64 `json:"x,omitempty"`
	Y  *float64 `json:"y,omitempty"`
	X1 *float64 `json:"x1,omitempty"`
	Y1 *float64 `json:"y1,omitempty"`
	X2 *float64 `json:"x2,omitempty"`
	Y2 *float64 `json:"y2,omitempty"`

	// Duration is in milliseconds.
	Duration *int64 `json:"duration,omitempty"`

	KeyCode   *int `json:"keyCode,omitempty"`
	MetaState int  `json:"metaState,omitempty"`

	Text  *string `json:"text,omitempty"`
	Paste bool    `json:"paste,omitempty"`
	Copy  bool    `json:"copy,omitempty"`

	Mode *int `json:"mode,omitempty"`

	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
	Alt     float64  `json:"alt,omitempty"`
	Bearing float64  `json:"bearing,omitempty"`
	Speed   float64  `json:"speed,omitempty"`
}

// Response is one reply line. Exactly one of Success, Text, Data or Error
// is set.
type Response struct {
	Cmd     string          `json:"cmd,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Text    *string         `json:"text,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func success(cmd string, ok bool) Response {
	return Response{Cmd: cmd, Success: &ok}
}

func text(cmd, s string) Response {
	return Response{Cmd: cmd, Text: &s}
}

func data(cmd string, raw []byte) Response {
	if !json.Valid(raw) {
		return failure(fmt.Errorf("%s: collaborator returned invalid JSON", cmd))
	}
	return Response{Cmd: cmd, Data: json.RawMessage(raw)}
}

func failure(err error) Response {
	return Response{Error: err.Error()}
}

func need[T any](v *T, field string) (T, error) {
	if v == nil {
		var zero T
		return zero, fmt.Errorf("missing field %q", field)
	}
	return *v, nil
}
