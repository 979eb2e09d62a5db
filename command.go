package liveroom

import "encoding/json"

// Command is the value delivered to a consumer for each decoded command.
// Raw is always populated with the exact JSON bytes the server sent. Value
// and Known are populated only when the caller's Decoder recognises the
// command; otherwise Known is false and Value is the zero value of T. The
// core never hard-codes a command taxonomy — T and the recognition logic
// are entirely the caller's choice.
type Command[T any] struct {
	Raw   json.RawMessage
	Value T
	Known bool
}

// Decoder classifies a raw command body, identified by its "cmd" field, as
// either a known T (ok == true) or unrecognised (ok == false, in which case
// the caller should rely on Command.Raw).
type Decoder[T any] func(cmd string, raw json.RawMessage) (T, bool)

type cmdProbe struct {
	CMD string `json:"cmd"`
}

// parseCommand validates raw as JSON and, if decode is non-nil, offers it
// the chance to classify the command by its "cmd" discriminator.
func parseCommand[T any](raw json.RawMessage, decode Decoder[T]) (Command[T], error) {
	var probe cmdProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Command[T]{}, &JSONError{Cause: err}
	}

	cmd := Command[T]{Raw: raw}
	if decode != nil {
		if v, ok := decode(probe.CMD, raw); ok {
			cmd.Value = v
			cmd.Known = true
		}
	}
	return cmd, nil
}
