package terminal

import (
	"errors"
)

type InputKind int

const (
	InputKey InputKind = iota
	InputText
	InputControl
)

type ControlSignal int

const (
	ControlInterrupt ControlSignal = iota
	ControlEOF
	ControlSuspend
)

// Input is a decoded viewer request to type into a session.
type Input struct {
	Kind    InputKind
	Key     *KeyEvent
	Text    string
	Control ControlSignal
}

// maxTextInput caps one pasted text input.
const maxTextInput = 4096

var (
	ErrMissingKey     = errors.New("missing key input")
	ErrTextTooLong    = errors.New("text input too long")
	ErrUnknownControl = errors.New("unknown control signal")
	ErrUnknownInput   = errors.New("unsupported input")
)

// KeyEvents expands an input into the keystrokes that produce it.
func (in Input) KeyEvents() ([]KeyEvent, error) {
	switch in.Kind {
	case InputKey:
		if in.Key == nil {
			return nil, ErrMissingKey
		}
		return []KeyEvent{*in.Key}, nil

	case InputText:
		if len(in.Text) > maxTextInput {
			return nil, ErrTextTooLong
		}
		events := make([]KeyEvent, 0, len(in.Text))
		for _, r := range in.Text {
			events = append(events, KeyEvent{Code: r})
		}
		return events, nil

	case InputControl:
		var letter rune
		switch in.Control {
		case ControlInterrupt:
			letter = 'C'
		case ControlEOF:
			letter = 'D'
		case ControlSuspend:
			letter = 'Z'
		default:
			return nil, ErrUnknownControl
		}
		return []KeyEvent{{Code: letter, Ctrl: true}}, nil

	default:
		return nil, ErrUnknownInput
	}
}
