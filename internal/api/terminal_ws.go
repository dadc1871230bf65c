package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ricochet1k/termslots/internal/domain"
	"github.com/ricochet1k/termslots/internal/service"
	"github.com/ricochet1k/termslots/internal/session"
	"github.com/ricochet1k/termslots/internal/terminal"
	apiTypes "github.com/ricochet1k/termslots/pkg/api"
)

const terminalProtocolVersion = 1

const terminalUpdateBuffer = 8

type terminalInputError struct {
	code    string
	message string
}

func (e *terminalInputError) Error() string {
	if e == nil {
		return "terminal input error"
	}
	return e.message
}

// terminalConn serializes writes; gorilla connections allow one writer at a
// time and both the update loop and the input loop send frames.
type terminalConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	slotID string
}

func (c *terminalConn) send(seq int64, messageType string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(apiTypes.TerminalEnvelope{
		Version: terminalProtocolVersion,
		Type:    messageType,
		SlotID:  c.slotID,
		Seq:     seq,
		TS:      time.Now().UTC(),
		Data:    data,
	})
}

func (c *terminalConn) sendError(seq int64, code, message string) error {
	return c.send(seq, "terminal.error", apiTypes.TerminalError{Code: code, Message: message})
}

func (h *Handler) slotWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := userFrom(ctx)
	slot, err := h.slots.Watch(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	cols, rows, ok := viewportSize(r, slot.Bridge)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid viewport size", "cols and rows must be integers")
		return
	}

	allowInput := terminalWriteRequested(r)
	if allowInput && !csrfTokenMatches(r) {
		writeError(w, http.StatusForbidden, "invalid CSRF token", "csrf header mismatch")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	tc := &terminalConn{conn: conn, slotID: slot.ID}
	log := h.log.With("slot", slot.Name, "user", user.Name)
	log.Debug("viewer attached", "write", allowInput)

	updates, cancel := slot.Bridge.Updates(terminalUpdateBuffer)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		if err := tc.send(0, "terminal.snapshot", snapshotResponse(slot.Bridge.RenderInto(cols, rows))); err != nil {
			return
		}
		var lastSeq int64
		for update := range updates {
			lastSeq = update.Seq
			if update.Kind == terminal.UpdateClosed {
				break
			}
			if err := tc.send(update.Seq, "terminal.snapshot", snapshotResponse(slot.Bridge.RenderInto(cols, rows))); err != nil {
				return
			}
		}
		if slot.Bridge.Alive() {
			// Unsubscribed from the reader side.
			return
		}
		_ = tc.send(lastSeq, "terminal.closed", nil)
		tc.mu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "slot closed"), time.Now().Add(time.Second))
		tc.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if len(data) == 0 {
			continue
		}
		if err := h.handleTerminalInput(ctx, tc, user, slot, allowInput, data); err != nil {
			break
		}
	}

	cancel()
	<-writeDone
	log.Debug("viewer detached")
}

// handleTerminalInput applies one inbound message. Rejections are reported
// on the socket; only a failed write ends the connection.
func (h *Handler) handleTerminalInput(ctx context.Context, tc *terminalConn, user domain.User, slot *service.Slot, allowInput bool, data []byte) error {
	var msg apiTypes.TerminalInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return tc.sendError(0, "bad_request", "invalid message")
	}
	if msg.Type == "" {
		return tc.sendError(0, "bad_request", "missing message type")
	}
	if !strings.HasPrefix(msg.Type, "input.") {
		return tc.sendError(0, "unsupported", "unsupported message type")
	}
	if !allowInput {
		return tc.sendError(0, "forbidden", "terminal input not allowed")
	}

	input, err := parseTerminalInput(msg)
	if err != nil {
		var te *terminalInputError
		if errors.As(err, &te) {
			return tc.sendError(0, te.code, te.message)
		}
		return tc.sendError(0, "bad_request", err.Error())
	}
	events, err := input.KeyEvents()
	if err != nil {
		return tc.sendError(0, "bad_request", err.Error())
	}

	if err := h.slots.Play(ctx, user, slot.ID, events...); err != nil {
		switch {
		case errors.Is(err, service.ErrPermissionDenied):
			return tc.sendError(0, "forbidden", "playing this slot is not allowed")
		case errors.Is(err, session.ErrClosed), errors.Is(err, service.ErrSlotNotFound):
			return tc.sendError(0, "closed", "slot closed")
		default:
			return tc.sendError(0, "input_failed", err.Error())
		}
	}
	return nil
}

func parseTerminalInput(msg apiTypes.TerminalInbound) (terminal.Input, error) {
	switch msg.Type {
	case "input.text":
		var payload apiTypes.TextInput
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return terminal.Input{}, err
		}
		return terminal.Input{Kind: terminal.InputText, Text: payload.Text}, nil
	case "input.key":
		return parseKeyInput(msg.Data)
	case "input.control":
		var payload apiTypes.ControlInput
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return terminal.Input{}, err
		}
		signal, err := parseControlSignal(payload.Signal)
		if err != nil {
			return terminal.Input{}, err
		}
		return terminal.Input{Kind: terminal.InputControl, Control: signal}, nil
	default:
		return terminal.Input{}, &terminalInputError{code: "unsupported", message: "unsupported input type"}
	}
}

func parseKeyInput(data []byte) (terminal.Input, error) {
	var payload apiTypes.KeyInput
	if err := json.Unmarshal(data, &payload); err != nil {
		return terminal.Input{}, err
	}
	ev := terminal.KeyEvent{Alt: payload.Alt, Ctrl: payload.Ctrl}
	switch {
	case payload.Key != "":
		key, ok := terminal.ParseKey(payload.Key)
		if !ok {
			return terminal.Input{}, &terminalInputError{code: "bad_request", message: "unknown key"}
		}
		ev.Special = key
	case payload.Rune != "":
		r, size := utf8.DecodeRuneInString(payload.Rune)
		if r == utf8.RuneError || size != len(payload.Rune) {
			return terminal.Input{}, &terminalInputError{code: "bad_request", message: "rune must be a single character"}
		}
		ev.Code = r
	default:
		return terminal.Input{}, &terminalInputError{code: "bad_request", message: "key or rune required"}
	}
	return terminal.Input{Kind: terminal.InputKey, Key: &ev}, nil
}

func parseControlSignal(signal string) (terminal.ControlSignal, error) {
	switch strings.ToLower(strings.TrimSpace(signal)) {
	case "interrupt", "sigint":
		return terminal.ControlInterrupt, nil
	case "eof":
		return terminal.ControlEOF, nil
	case "suspend", "sigtstp":
		return terminal.ControlSuspend, nil
	default:
		return terminal.ControlInterrupt, &terminalInputError{code: "bad_request", message: "unknown control signal"}
	}
}

func terminalWriteRequested(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Terminal-Write"), "true") {
		return true
	}
	q := r.URL.Query()
	if strings.EqualFold(q.Get("write"), "true") {
		return true
	}
	return strings.EqualFold(q.Get("mode"), "write")
}
