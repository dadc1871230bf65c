package api

import (
	"encoding/json"
	"time"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type MOTDResponse struct {
	Text string `json:"text"`
}

type ProfileResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Cols         int    `json:"cols"`
	Rows         int    `json:"rows"`
	Encoding     string `json:"encoding"`
	MaxInstances int    `json:"max_instances"`
	Running      int    `json:"running"`
}

type ProfileListResponse struct {
	Profiles []ProfileResponse `json:"profiles"`
}

type SlotResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ProfileID string    `json:"profile_id"`
	Profile   string    `json:"profile"`
	Launcher  string    `json:"launcher"`
	Started   time.Time `json:"started"`
	State     string    `json:"state"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
}

type SlotListResponse struct {
	Slots []SlotResponse `json:"slots"`
}

type TerminalSpan struct {
	Text string `json:"t"`
	Fg   uint8  `json:"fg"`
	Bg   uint8  `json:"bg"`
	Bold bool   `json:"b,omitempty"`
}

// TerminalSnapshot is a viewer-sized rendering of a slot's screen. The
// cursor is drawn into the cells.
type TerminalSnapshot struct {
	Rows  int              `json:"rows"`
	Cols  int              `json:"cols"`
	Lines []string         `json:"lines"`
	Spans [][]TerminalSpan `json:"spans,omitempty"`
}

type TranscriptResponse struct {
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}

// TerminalEnvelope frames every server message on a slot WebSocket.
type TerminalEnvelope struct {
	Version int       `json:"v"`
	Type    string    `json:"type"`
	SlotID  string    `json:"slot_id"`
	Seq     int64     `json:"seq"`
	TS      time.Time `json:"ts"`
	Data    any       `json:"data,omitempty"`
}

type TerminalInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type KeyInput struct {
	Key  string `json:"key,omitempty"`
	Rune string `json:"rune,omitempty"`
	Alt  bool   `json:"alt,omitempty"`
	Ctrl bool   `json:"ctrl,omitempty"`
}

type TextInput struct {
	Text string `json:"text"`
}

type ControlInput struct {
	Signal string `json:"signal"`
}

type TerminalError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
