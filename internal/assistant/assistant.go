package assistant

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"openideax/collab/internal/llm"
	"openideax/collab/internal/metrics"
	"openideax/collab/internal/models"
	"openideax/collab/internal/prompts"
	"openideax/collab/internal/session"
)

// FallbackReply is posted whenever a generation fails, times out or comes
// back empty.
const FallbackReply = "I'm here to help you develop this idea further. What specific aspect would you like to explore?"

const DefaultTimeout = 30 * time.Second

var triggerPattern = regexp.MustCompile(`(?i)^(hey ai|@ai|/ai)\s*`)

// IsTrigger reports whether content addresses the AI participant.
func IsTrigger(content string) bool {
	return triggerPattern.MatchString(content)
}

// StripTrigger removes the addressing prefix.
func StripTrigger(content string) string {
	return strings.TrimSpace(triggerPattern.ReplaceAllString(content, ""))
}

// Assistant is the AI participant. It implements session.Responder for
// chat triggers and serves room synthesis requests.
type Assistant struct {
	provider llm.Provider
	prompts  *prompts.PromptManager
	personas *Catalog
	hub      *session.Hub
	log      *zap.Logger
	timeout  time.Duration

	inflight singleflight.Group
}

func New(provider llm.Provider, pm *prompts.PromptManager, personas *Catalog, hub *session.Hub, log *zap.Logger, timeout time.Duration) *Assistant {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Assistant{
		provider: provider,
		prompts:  pm,
		personas: personas,
		hub:      hub,
		log:      log,
		timeout:  timeout,
	}
}

func (a *Assistant) Personas() []models.Persona { return a.personas.List() }

func (a *Assistant) ProviderName() string { return a.provider.GetProviderName() }

// Triggered is true for user text messages that start with an AI prefix.
func (a *Assistant) Triggered(msg models.ChatMessage) bool {
	return msg.Sender == models.SenderUser && msg.Type == models.MessageText && IsTrigger(msg.Content)
}

// Reply generates the AI answer to trigger. It never fails: any provider
// error yields FallbackReply.
func (a *Assistant) Reply(ctx context.Context, trigger models.ChatMessage) models.ChatMessage {
	reply := models.ChatMessage{
		Sender:    models.SenderAI,
		PersonaID: trigger.PersonaID,
		Type:      models.MessageText,
		Content:   FallbackReply,
	}

	prompt, err := a.chatPrompt(trigger)
	if err != nil {
		a.log.Error("build chat prompt", zap.String("room_id", trigger.RoomID), zap.Error(err))
		metrics.AIRequests.WithLabelValues("chat", "fallback").Inc()
		return reply
	}
	if content, ok := a.generate(ctx, "chat", trigger.RoomID, prompt); ok {
		reply.Content = content
	}
	return reply
}

// Synthesize summarises the room's text chat, posts the result as a
// synthesis message and returns it. Concurrent calls for one room share a
// single generation.
func (a *Assistant) Synthesize(ctx context.Context, roomID string) (models.ChatMessage, error) {
	if _, ok := a.hub.Get(roomID); !ok {
		return models.ChatMessage{}, session.ErrRoomNotFound
	}

	v, err, shared := a.inflight.Do(roomID, func() (interface{}, error) {
		room, ok := a.hub.Get(roomID)
		if !ok {
			return nil, session.ErrRoomNotFound
		}
		snap := room.Snapshot()

		content := FallbackReply
		prompt, err := a.prompts.BuildPrompt(prompts.ModeSynthesis, "default", map[string]string{
			"Transcript": transcript(snap.Chat),
			"Document":   documentText(snap.Document),
		})
		if err != nil {
			a.log.Error("build synthesis prompt", zap.String("room_id", roomID), zap.Error(err))
			metrics.AIRequests.WithLabelValues("synthesis", "fallback").Inc()
		} else {
			// detached so one caller going away does not cancel the shared call
			genCtx := context.WithoutCancel(ctx)
			if text, ok := a.generate(genCtx, "synthesis", roomID, prompt); ok {
				content = text
			}
		}

		posted, err := room.PostChat(models.ChatMessage{
			Sender:  models.SenderAI,
			Content: content,
			Type:    models.MessageSynthesis,
		}, "")
		if err != nil {
			return nil, fmt.Errorf("%w: %s", session.ErrRoomNotFound, roomID)
		}
		return posted, nil
	})
	if err != nil {
		return models.ChatMessage{}, err
	}
	if shared {
		a.log.Debug("synthesis shared", zap.String("room_id", roomID))
	}
	return v.(models.ChatMessage), nil
}

func (a *Assistant) chatPrompt(trigger models.ChatMessage) (string, error) {
	data := map[string]string{"Message": StripTrigger(trigger.Content)}
	variant := "default"
	if p, ok := a.personas.Get(trigger.PersonaID); ok {
		variant = "persona"
		data["PersonaName"] = p.Name
		data["PersonaRole"] = p.Role
		data["PersonaExpertise"] = strings.Join(p.Expertise, ", ")
		data["PersonaPerspective"] = p.Perspective
	}
	return a.prompts.BuildPrompt(prompts.ModeChat, variant, data)
}

func (a *Assistant) generate(ctx context.Context, kind, roomID, prompt string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	requestID := uuid.NewString()
	resp, err := a.provider.GenerateContent(ctx, prompt, requestID)
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = &llm.ProviderError{Provider: a.provider.GetProviderName(), Code: llm.ErrCodeInvalidInput, Message: "empty response"}
	}
	if err != nil {
		a.log.Warn("ai generation failed, using fallback",
			zap.String("kind", kind),
			zap.String("room_id", roomID),
			zap.String("request_id", requestID),
			zap.Error(err))
		metrics.AIRequests.WithLabelValues(kind, "fallback").Inc()
		return "", false
	}

	a.log.Info("ai generation completed",
		zap.String("kind", kind),
		zap.String("room_id", roomID),
		zap.String("request_id", requestID),
		zap.String("provider", resp.Metadata.Provider),
		zap.Int("processing_ms", resp.Metadata.ProcessingTime))
	metrics.AIRequests.WithLabelValues(kind, "ok").Inc()
	return strings.TrimSpace(resp.Content), true
}

func transcript(chat []models.ChatMessage) string {
	var b strings.Builder
	for _, m := range chat {
		if m.Type != models.MessageText {
			continue
		}
		b.WriteString(string(m.Sender))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "(no messages yet)"
	}
	return strings.TrimRight(b.String(), "\n")
}

func documentText(doc models.DocumentSnapshot) string {
	if len(doc) == 0 {
		return "{}"
	}
	return string(doc)
}
