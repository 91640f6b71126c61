package models

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

const (
	MaxIDLength      = 128
	MaxContentLength = 5000
)

type JoinEvent struct {
	RoomID        string           `json:"roomId"`
	ParticipantID string           `json:"participantId"`
	DisplayName   string           `json:"displayName"`
	Avatar        string           `json:"avatar,omitempty"`
	Document      DocumentSnapshot `json:"document,omitempty"`
}

type ChatEvent struct {
	RoomID    string      `json:"roomId"`
	ID        string      `json:"id,omitempty"`
	Sender    SenderKind  `json:"sender"`
	PersonaID string      `json:"personaId,omitempty"`
	Content   string      `json:"content"`
	Type      MessageKind `json:"type"`
}

type DocumentUpdateEvent struct {
	RoomID   string           `json:"roomId"`
	Document DocumentSnapshot `json:"document"`
}

// implements the Validator interface
func (e *JoinEvent) Validate() error {
	if err := validateID("room_id", e.RoomID); err != nil {
		return err
	}
	if err := validateID("participant_id", e.ParticipantID); err != nil {
		return err
	}
	if e.DisplayName == "" {
		return &ErrorResponse{Code: "missing_display_name", Message: "displayName is required"}
	}
	if !utf8.ValidString(e.DisplayName) {
		return &ErrorResponse{Code: "invalid_display_name", Message: "displayName must be valid UTF-8"}
	}
	// an explicit null is the same as no document
	if isNull(e.Document) {
		e.Document = nil
	}
	if e.Document != nil && !isObject(e.Document) {
		return &ErrorResponse{Code: "invalid_document", Message: "document must be a JSON object"}
	}
	return nil
}

// implements the Validator interface; fills in the default sender and type
func (e *ChatEvent) Validate() error {
	if err := validateID("room_id", e.RoomID); err != nil {
		return err
	}
	if len(e.ID) > MaxIDLength {
		return &ErrorResponse{Code: "invalid_id", Message: "id is too long"}
	}
	if e.Content == "" {
		return &ErrorResponse{Code: "missing_content", Message: "content is required"}
	}
	if len(e.Content) > MaxContentLength {
		return &ErrorResponse{Code: "content_too_long", Message: "content exceeds maximum length"}
	}
	if !utf8.ValidString(e.Content) {
		return &ErrorResponse{Code: "invalid_content", Message: "content must be valid UTF-8"}
	}

	if e.Sender == "" {
		e.Sender = SenderUser
	}
	if e.Sender != SenderUser && e.Sender != SenderAI {
		return &ErrorResponse{Code: "invalid_sender", Message: "sender must be user or ai"}
	}

	if e.Type == "" {
		e.Type = MessageText
	}
	if e.Type != MessageText && e.Type != MessageSynthesis {
		return &ErrorResponse{Code: "invalid_type", Message: "type must be text or synthesis"}
	}
	return nil
}

// implements the Validator interface
func (e *DocumentUpdateEvent) Validate() error {
	if err := validateID("room_id", e.RoomID); err != nil {
		return err
	}
	if !isObject(e.Document) {
		return &ErrorResponse{Code: "invalid_document", Message: "document must be a JSON object"}
	}
	return nil
}

func validateID(field, v string) error {
	if v == "" {
		return &ErrorResponse{Code: "missing_" + field, Message: field + " is required"}
	}
	if len(v) > MaxIDLength {
		return &ErrorResponse{Code: "invalid_" + field, Message: field + " is too long"}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return raw != nil && bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
