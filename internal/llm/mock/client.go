// Package mock is an offline provider that answers from a small keyword
// table. It keeps rooms usable without an API key.
package mock

import (
	"context"
	"strings"
	"time"

	"openideax/collab/internal/llm"
	"openideax/collab/internal/models"
)

const (
	// MessagePrefix marks the line carrying the participant's question in
	// a chat prompt.
	MessagePrefix = "Participant message:"
	// SynthesisMarker identifies a synthesis prompt.
	SynthesisMarker = "CONVERSATION:"
)

type topic struct {
	keywords []string
	reply    string
}

var topics = []topic{
	{
		keywords: []string{"technology", "tech", "ai", "app"},
		reply: "That's a fascinating technology question. Key areas to weigh: current trends in AI and cloud, " +
			"the user experience, scalability, security and cost. Which of these should we dig into?",
	},
	{
		keywords: []string{"business", "startup", "entrepreneur", "funding"},
		reply: "Good business question. Think about market research, a clear business model, the team, " +
			"a funding strategy and your competitive advantage. Which part should we explore first?",
	},
	{
		keywords: []string{"social", "impact", "community", "sustainability"},
		reply: "That's an important social impact question. Start from community needs, involve stakeholders early, " +
			"and decide how impact will be measured. Want to go deeper on any of these?",
	},
	{
		keywords: []string{"innovation", "solution", "problem", "idea"},
		reply: "Great innovation question. Define the root problem, explore several approaches, validate with users " +
			"and prototype quickly. Shall we work through one of these steps together?",
	},
}

const defaultReply = "Interesting question! Could you tell me a bit more about the specific focus, " +
	"where things stand today and what you hope to achieve? That will help me give a more useful answer."

const synthesisReply = "Key themes: the group is converging on a shared problem statement.\n" +
	"Most promising ideas: the proposals that reuse existing community infrastructure.\n" +
	"Areas to explore: funding, partnerships and a pilot audience.\n" +
	"Next steps: agree on one pilot and assign owners.\n" +
	"Challenges: adoption and long-term maintenance."

type Client struct {
	delay time.Duration
}

func NewClient() *Client { return &Client{} }

// WithDelay makes every generation take at least d; useful for exercising
// timeouts.
func (c *Client) WithDelay(d time.Duration) *Client {
	c.delay = d
	return c
}

func (c *Client) GenerateContent(ctx context.Context, prompt string, requestID string) (*models.GenerationResponse, error) {
	start := time.Now()
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, &llm.ProviderError{Provider: "mock", Code: llm.ErrCodeTimeout, Message: "generation cancelled", Err: ctx.Err()}
		}
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, &llm.ProviderError{Provider: "mock", Code: llm.ErrCodeInvalidInput, Message: "empty prompt"}
	}

	content := synthesisReply
	if !strings.Contains(prompt, SynthesisMarker) {
		content = replyFor(question(prompt))
	}

	return &models.GenerationResponse{
		Content:   content,
		RequestID: requestID,
		Metadata: models.GenerationMetadata{
			ProcessingTime: int(time.Since(start).Milliseconds()),
			Provider:       "mock",
			Model:          "keyword",
		},
	}, nil
}

func (c *Client) GetProviderName() string { return "mock" }

// question pulls the participant's text out of a rendered chat prompt, or
// returns the whole prompt when the marker is absent.
func question(prompt string) string {
	if i := strings.LastIndex(prompt, MessagePrefix); i >= 0 {
		return strings.TrimSpace(prompt[i+len(MessagePrefix):])
	}
	return prompt
}

func replyFor(q string) string {
	words := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		seen[w] = true
	}
	for _, t := range topics {
		for _, k := range t.keywords {
			if seen[k] {
				return t.reply
			}
		}
	}
	return defaultReply
}

func init() {
	llm.RegisterProvider("mock", func() (llm.Provider, error) {
		return NewClient(), nil
	})
}
