package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/poolfleet/internal/events"
	"github.com/nerrad567/poolfleet/internal/reflector"
)

// CommandView describes one sendable command and its parameters.
type CommandView struct {
	Key    string            `json:"key"`
	Group  string            `json:"group"`
	Name   string            `json:"name"`
	Marker bool              `json:"marker"`
	Params []reflector.Field `json:"params"`
}

// SendCommandRequest is the body of POST .../commands/{group}/{command}.
// Values are raw strings keyed by parameter name; repeated parameters are
// comma separated.
type SendCommandRequest struct {
	Values map[string]string `json:"values"`
}

// SendCommandResponse reports a published command.
type SendCommandResponse struct {
	ID      string   `json:"id"`
	Command string   `json:"command"`
	Topic   string   `json:"topic"`
	Skipped []string `json:"skipped,omitempty"`
}

// SetLevelRequest is the body of PUT .../level. The value is a string so
// parse failures are reported the same way as from any other input.
type SetLevelRequest struct {
	Value string `json:"value"`
}

// SetIntervalRequest is the body of PUT .../interval.
type SetIntervalRequest struct {
	Seconds int `json:"seconds"`
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// handleListCommands lists the commands available to a device's family.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	fam, cmds, err := s.commands.Commands(serial)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]CommandView, 0, len(cmds))
	for _, c := range cmds {
		views = append(views, CommandView{
			Key:    c.Key(),
			Group:  string(c.Group),
			Name:   string(c.Name),
			Marker: c.IsMarker(),
			Params: reflector.EnumerateFields(c.Params()),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"serial":   serial,
		"family":   fam.String(),
		"commands": views,
	})
}

// handleSendCommand builds and publishes one command. Ungrouped commands
// are addressed without the group segment.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	group := chi.URLParam(r, "group")
	name := chi.URLParam(r, "command")
	key := name
	if group != "" {
		key = group + "/" + name
	}

	var req SendCommandRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	env, err := s.commands.Send(serial, group, name, req.Values)
	if err != nil {
		s.events.Emit(serial, fmt.Sprintf("Failed to send %s: %v", key, err), events.SeverityError)
		writeDomainError(w, err)
		return
	}

	s.events.Emit(serial, fmt.Sprintf("Sent command %s (%s)", key, env.ID), events.SeverityNotice)
	if len(env.Skipped) > 0 {
		s.events.Emit(serial,
			fmt.Sprintf("Command %s: could not parse %s; left unset", key, strings.Join(env.Skipped, ", ")),
			events.SeverityWarning)
	}

	writeJSON(w, http.StatusOK, SendCommandResponse{
		ID:      env.ID,
		Command: env.Command.Key(),
		Topic:   env.Topic,
		Skipped: env.Skipped,
	})
}

// handleSetLevel stores a new level and sends it once.
func (s *Server) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	var req SetLevelRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	level, err := s.sender.SetLevel(serial, req.Value)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"serial": serial, "level": level})
}

// handleSetInterval changes the background sender interval.
func (s *Server) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	var req SetIntervalRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.sender.SetInterval(serial, req.Seconds); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"serial": serial, "interval_seconds": req.Seconds})
}

// handleStartSender starts the background sender. Starting a running
// sender succeeds without effect.
func (s *Server) handleStartSender(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	if err := s.sender.Start(serial); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"serial": serial, "sending": s.sender.Running(serial)})
}

// handleStopSender stops the background sender and returns once it has exited.
func (s *Server) handleStopSender(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	if _, ok := s.registry.Identity(serial); !ok {
		writeNotFound(w, "device not found: "+serial)
		return
	}
	s.sender.Stop(serial)

	writeJSON(w, http.StatusOK, map[string]any{"serial": serial, "sending": s.sender.Running(serial)})
}
