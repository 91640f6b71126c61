package models

import (
	"encoding/json"
	"time"
)

// Inbound frame types accepted by the gateway.
const (
	FrameJoin           = "join"
	FrameChat           = "chat"
	FrameDocumentUpdate = "document-update"
)

// Outbound frame types.
const (
	FrameRosterUpdated     = "roster-updated"
	FrameParticipantJoined = "participant-joined"
	FrameParticipantLeft   = "participant-left"
	FrameChatHistory       = "chat-history"
	FrameDocumentUpdated   = "document-updated"
)

type SenderKind string

const (
	SenderUser SenderKind = "user"
	SenderAI   SenderKind = "ai"
)

type MessageKind string

const (
	MessageText      MessageKind = "text"
	MessageSynthesis MessageKind = "synthesis"
)

// DocumentSnapshot is the shared blueprint. The server never looks inside it.
type DocumentSnapshot = json.RawMessage

/*** Wire frames ***/

// InboundFrame is what clients send; Data is decoded once the type is known.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type WSFrame struct {
	Type   string      `json:"type"`
	RoomID string      `json:"roomId,omitempty"`
	Data   interface{} `json:"data"`
}

/*** Room state ***/

type Participant struct {
	ParticipantID string    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	Avatar        string    `json:"avatar,omitempty"`
	JoinedAt      time.Time `json:"joinedAt"`
	ConnectionID  string    `json:"-"`
}

type ChatMessage struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"roomId"`
	Sender    SenderKind  `json:"sender"`
	PersonaID string      `json:"personaId,omitempty"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageKind `json:"type"`
}

type ParticipantLeft struct {
	ParticipantID string `json:"participantId"`
}

// RoomSummary is the list view of a room.
type RoomSummary struct {
	RoomID       string    `json:"roomId"`
	Participants int       `json:"participants"`
	Messages     int       `json:"messages"`
	HasDocument  bool      `json:"hasDocument"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RoomSnapshot is a consistent copy of a room taken under its lock.
type RoomSnapshot struct {
	RoomID       string           `json:"roomId"`
	Participants []Participant    `json:"participants"`
	Document     DocumentSnapshot `json:"document,omitempty"`
	Chat         []ChatMessage    `json:"chat"`
	CreatedAt    time.Time        `json:"createdAt"`
}

/*** AI ***/

type Persona struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Role        string   `json:"role" yaml:"role"`
	Expertise   []string `json:"expertise" yaml:"expertise"`
	Perspective string   `json:"perspective" yaml:"perspective"`
}

type GenerationResponse struct {
	Content   string             `json:"content"`
	RequestID string             `json:"requestId"`
	Metadata  GenerationMetadata `json:"metadata"`
}

type GenerationMetadata struct {
	ProcessingTime int    `json:"processingTimeMs"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
}

// ErrorResponse doubles as a validation error and an HTTP error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return e.Code + ": " + e.Message
}
