package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lorawatch/internal/audit"
	"github.com/nerrad567/lorawatch/internal/auth"
	"github.com/nerrad567/lorawatch/internal/command"
	"github.com/nerrad567/lorawatch/internal/device"
)

// handleListDevices returns every known device with its derived status.
//
// Query parameters:
//   - status: filter by status (online, recent, offline)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.store.List(s.now())

	if want := r.URL.Query().Get("status"); want != "" {
		switch device.Status(want) {
		case device.StatusOnline, device.StatusRecent, device.StatusOffline:
		default:
			writeBadRequest(w, "status must be one of online, recent, offline")
			return
		}
		filtered := make([]device.Summary, 0, len(devices))
		for _, d := range devices {
			if d.Status == device.Status(want) {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by EUI. The EUI is matched
// case-insensitively.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := device.NormalizeID(chi.URLParam(r, "eui"))

	state, ok := s.store.Get(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, device.Summary{
		State:  state,
		Status: device.StatusOf(state, s.now()),
	})
}

// handleStats returns the dashboard aggregate.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats(s.now()))
}

// controlRequest is the body of POST /devices/{eui}/control.
// "switch" is accepted as an alias for "channel".
type controlRequest struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
	Switch  string `json:"switch"`
}

// controlResponse reports the downlinks that were published.
type controlResponse struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Commands []command.Ack `json:"commands"`
}

// handleControlDevice sends a relay command. An empty channel drives both
// relays as independent downlinks.
func (s *Server) handleControlDevice(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command dispatch is not configured")
		return
	}

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	channel := req.Channel
	if channel == "" {
		channel = req.Switch
	}

	eui := chi.URLParam(r, "eui")
	log := s.logger.With("device_eui", eui, "action", req.Action, "request_id", r.Context().Value(ctxKeyRequestID))

	var (
		acks []command.Ack
		err  error
	)
	if channel != "" {
		var ack command.Ack
		ack, err = s.commands.Send(r.Context(), eui, req.Action, channel)
		if err == nil {
			acks = []command.Ack{ack}
		}
	} else {
		acks, err = s.commands.SendAll(r.Context(), eui, req.Action)
	}
	s.recordCommands(r, eui, req.Action, channel, acks, err)

	if err != nil {
		log.Warn("control command failed", "channel", channel, "sent", len(acks), "error", err)
		if len(acks) > 0 && errors.Is(err, command.ErrTransport) {
			// Some relays switched; report which ones alongside the failure.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":    Error{Code: ErrCodeTransport, Message: err.Error()},
				"commands": acks,
			})
			return
		}
		writeCommandError(w, err)
		return
	}

	target := channel
	if target == "" {
		target = "all channels"
	}
	writeJSON(w, http.StatusOK, controlResponse{
		Success:  true,
		Message:  fmt.Sprintf("Command sent: %s %s", target, req.Action),
		Commands: acks,
	})
}

// recordCommands writes the outcome to the audit trail. A request for every
// channel is recorded per channel, so a partial failure shows which relays
// actually switched. Audit failures are logged and never change the response.
func (s *Server) recordCommands(r *http.Request, eui, action, channel string, acks []command.Ack, sendErr error) {
	if s.audit == nil {
		return
	}

	id := device.NormalizeID(eui)
	if id == "" {
		return
	}
	actor := actorFrom(r)
	entry := func(ch, outcome string, err error) *audit.Entry {
		e := &audit.Entry{DeviceID: id, Action: action, Channel: ch, Actor: actor, Outcome: outcome}
		if err != nil {
			e.Error = err.Error()
		}
		return e
	}

	var entries []*audit.Entry
	if channel == "" {
		for _, ack := range acks {
			entries = append(entries, entry(string(ack.Channel), audit.OutcomeSent, nil))
		}
		for _, failed := range command.FailedChannels(sendErr) {
			entries = append(entries, entry(string(failed.Channel), audit.OutcomeFailed, failed.Err))
		}
	}
	if len(entries) == 0 {
		outcome := audit.OutcomeSent
		if sendErr != nil {
			outcome = audit.OutcomeFailed
		}
		entries = append(entries, entry(channel, outcome, sendErr))
	}

	for _, e := range entries {
		if err := s.audit.Create(r.Context(), e); err != nil {
			s.logger.Warn("failed to record command", "device_eui", id, "channel", e.Channel, "error", err)
		}
	}
}

// actorFrom returns the token subject, or "anonymous" when auth is off.
func actorFrom(r *http.Request) string {
	if claims, ok := r.Context().Value(ctxKeyClaims).(*auth.Claims); ok && claims.Subject != "" {
		return claims.Subject
	}
	return "anonymous"
}

// handleListCommands returns the command history of one device, newest first.
//
// Query parameters:
//   - outcome: filter by outcome (sent, failed)
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command history is not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: device.NormalizeID(chi.URLParam(r, "eui")),
		Outcome:  q.Get("outcome"),
	}
	switch filter.Outcome {
	case "", audit.OutcomeSent, audit.OutcomeFailed:
	default:
		writeBadRequest(w, "outcome must be sent or failed")
		return
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list commands", "device_eui", filter.DeviceID, "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
