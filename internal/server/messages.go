package server

import (
	"encoding/json"
	"net/http"

	gateway "github.com/eugener/smaug/internal"
)

type sendMessageRequest struct {
	Content string               `json:"content"`
	Config  *gateway.AgentConfig `json:"config"`
}

func (s *server) handleSendSync(w http.ResponseWriter, r *http.Request) {
	id, err := dialogID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	msg, err := s.deps.Chat.Send(r.Context(), id, gateway.IdentityFromContext(r.Context()), req.Content, req.Config)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// sseFrame is one SSE data payload. The terminal frame carries the persisted
// message id and usage; an error-terminated stream carries Error instead.
type sseFrame struct {
	Content          string `json:"content"`
	Done             bool   `json:"done"`
	MessageID        string `json:"message_id,omitempty"`
	PromptTokens     *int   `json:"prompt_tokens,omitempty"`
	CompletionTokens *int   `json:"completion_tokens,omitempty"`
	Error            string `json:"error,omitempty"`
}

func (s *server) handleSendStream(w http.ResponseWriter, r *http.Request) {
	id, err := dialogID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	stream, err := s.deps.Chat.SendStream(r.Context(), id, gateway.IdentityFromContext(r.Context()), req.Content, req.Config)
	if err != nil {
		// pre-flight failures are ordinary JSON errors, not SSE
		s.writeError(w, r, err)
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.StreamsActive.Inc()
		defer s.deps.Metrics.StreamsActive.Dec()
	}

	writeSSEHeaders(w)
	flusher, _ := w.(http.Flusher)

	for chunk := range stream {
		frame := sseFrame{Content: chunk.Content, Done: chunk.Done}
		if chunk.Err != nil {
			_, code := errorStatus(chunk.Err)
			frame.Error = code
		} else if chunk.Done {
			frame.MessageID = chunk.MessageID.String()
			p, c := chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens
			frame.PromptTokens = &p
			frame.CompletionTokens = &c
		}

		payload, err := json.Marshal(frame)
		if err != nil {
			return
		}
		writeSSEData(w, payload)
		if flusher != nil {
			flusher.Flush()
		}
	}
}
