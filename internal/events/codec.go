package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEvent is returned when decoding a type outside the closed set
var ErrUnknownEvent = errors.New("events: unknown event type")

// Envelope is the wire form of an event
type Envelope struct {
	Type   Kind            `json:"type"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

var decoders = map[Kind]func(json.RawMessage) (Event, error){
	KindExerciseCompleted: decodeAs[ExerciseCompleted],
	KindCodeExecuted:      decodeAs[CodeExecuted],
	KindVideoProgress:     decodeAs[VideoProgress],
	KindVideoEnded:        decodeAs[VideoEnded],
	KindMarkComplete:      decodeAs[MarkComplete],
	KindUserActivity:      decodeAs[UserActivity],
	KindBeforeUnload:      decodeAs[BeforeUnload],
	KindLessonCompleted:   decodeAs[LessonCompleted],
	KindProgressUpdated:   decodeAs[ProgressUpdated],
	KindThemeChanged:      decodeAs[ThemeChanged],
	KindAppError:          decodeAs[AppError],
	KindAnalytics:         decodeAs[Analytics],
	KindNotice:            decodeAs[Notice],
}

func decodeAs[T Event](detail json.RawMessage) (Event, error) {
	var v T
	trimmed := bytes.TrimSpace(detail)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("invalid %s detail: %w", v.Kind(), err)
	}
	return v, nil
}

// Known reports whether kind belongs to the closed set
func Known(kind Kind) bool {
	_, ok := decoders[kind]
	return ok
}

// Wrap converts e into its envelope
func Wrap(e Event) (Envelope, error) {
	detail, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s: %w", e.Kind(), err)
	}
	return Envelope{Type: e.Kind(), Detail: detail}, nil
}

// Unwrap converts an envelope back into its typed event
func (env Envelope) Unwrap() (Event, error) {
	decode, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	return decode(env.Detail)
}

// Encode returns the JSON wire form of e
func Encode(e Event) ([]byte, error) {
	env, err := Wrap(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses the JSON wire form of an event
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid event envelope: %w", err)
	}
	return env.Unwrap()
}
