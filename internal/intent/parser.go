// Package intent turns free-form user text into structured skill
// invocations via an LLM tool call.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/adapters/llm"
	"github.com/chainclaw/chainclaw/internal/skills"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// ActionUnknown marks an intent the model could not map to a skill.
const ActionUnknown = "unknown"

// parseIntentTool is the reserved tool name the model replies through.
const parseIntentTool = "parse_intent"

// maxHistoryWindow bounds how many prior entries go into the prompt.
const maxHistoryWindow = 10

// Intent is one action the user asked for.
type Intent struct {
	Action     string                 `json:"action"`
	Params     map[string]interface{} `json:"params"`
	Confidence float64                `json:"confidence"`
	RawText    string                 `json:"rawText"`
}

// ParseResult is the parser's full verdict on one message.
type ParseResult struct {
	Intents               []Intent `json:"intents"`
	ClarificationNeeded   bool     `json:"clarificationNeeded"`
	ClarificationQuestion string   `json:"clarificationQuestion,omitempty"`
	ConversationalReply   string   `json:"conversationalReply,omitempty"`
}

// Parser maps user messages onto registered skills. It is stateless;
// conversation history is passed in per call.
type Parser struct {
	provider llm.Provider
	registry *skills.Registry
	log      *zap.Logger
}

// NewParser creates the parser.
func NewParser(provider llm.Provider, registry *skills.Registry) *Parser {
	return &Parser{
		provider: provider,
		registry: registry,
		log:      logger.Named("intent"),
	}
}

// Parse extracts intents from a message. LLM failures never surface:
// they degrade to a clarification request.
func (p *Parser) Parse(ctx context.Context, message string, history []models.ConversationEntry) *ParseResult {
	messages := p.buildMessages(message, history)
	tools := []llm.Tool{p.parseTool()}

	resp, err := p.provider.Chat(ctx, messages, tools)
	if err != nil {
		p.log.Warn("intent parse failed, asking for clarification",
			zap.String("provider", p.provider.Name()),
			zap.Error(err))
		return &ParseResult{
			Intents:               []Intent{},
			ClarificationNeeded:   true,
			ClarificationQuestion: "I'm having trouble understanding right now. Could you rephrase that?",
		}
	}

	result := p.decode(resp, message)
	p.log.Debug("parsed message",
		zap.Int("intents", len(result.Intents)),
		zap.Bool("clarification", result.ClarificationNeeded))
	return result
}

// decode maps a provider response onto a ParseResult. A plain-text
// reply without a tool call is treated as conversation.
func (p *Parser) decode(resp *llm.Response, message string) *ParseResult {
	for _, call := range resp.ToolCalls {
		if call.Name != parseIntentTool {
			continue
		}
		result, err := p.decodeToolCall(call.Arguments, message)
		if err != nil {
			p.log.Warn("malformed parse_intent arguments", zap.Error(err))
			break
		}
		return result
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		reply = "I'm not sure what you mean. Try /help to see what I can do."
	}
	return &ParseResult{
		Intents: []Intent{{
			Action:     ActionUnknown,
			Params:     map[string]interface{}{},
			Confidence: 0,
			RawText:    message,
		}},
		ConversationalReply: reply,
	}
}

// toolCallPayload mirrors the parse_intent argument schema.
type toolCallPayload struct {
	Intents []struct {
		Action     string                 `json:"action"`
		Params     map[string]interface{} `json:"params"`
		Confidence float64                `json:"confidence"`
	} `json:"intents"`
	ClarificationNeeded   bool   `json:"clarificationNeeded"`
	ClarificationQuestion string `json:"clarificationQuestion"`
	ConversationalReply   string `json:"conversationalReply"`
}

func (p *Parser) decodeToolCall(args json.RawMessage, message string) (*ParseResult, error) {
	var payload toolCallPayload
	if err := json.Unmarshal(args, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode tool arguments: %w", err)
	}

	result := &ParseResult{
		Intents:               make([]Intent, 0, len(payload.Intents)),
		ClarificationNeeded:   payload.ClarificationNeeded,
		ClarificationQuestion: payload.ClarificationQuestion,
		ConversationalReply:   payload.ConversationalReply,
	}
	for _, it := range payload.Intents {
		action := strings.TrimSpace(it.Action)
		if action == "" {
			action = ActionUnknown
		}
		params := it.Params
		if params == nil {
			params = map[string]interface{}{}
		}
		confidence := it.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		result.Intents = append(result.Intents, Intent{
			Action:     action,
			Params:     params,
			Confidence: confidence,
			RawText:    message,
		})
	}
	return result, nil
}

// buildMessages assembles the prompt: system instructions, a bounded
// history window, then the current message.
func (p *Parser) buildMessages(message string, history []models.ConversationEntry) []llm.Message {
	if len(history) > maxHistoryWindow {
		history = history[len(history)-maxHistoryWindow:]
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: p.systemPrompt()})
	for _, entry := range history {
		role := string(entry.Role)
		if role != "user" && role != "assistant" {
			continue
		}
		messages = append(messages, llm.Message{Role: role, Content: entry.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: message})
	return messages
}

func (p *Parser) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are the intent parser for a DeFi operations assistant. ")
	b.WriteString("Map the user's message onto the available skills and respond ")
	b.WriteString("by calling the parse_intent tool.\n\nAvailable skills:\n")
	for _, skill := range p.registry.List() {
		fmt.Fprintf(&b, "- %s: %s\n", skill.Name, skill.Description)
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Use one intent per requested action, in the order the user asked.\n")
	b.WriteString("- Use action \"unknown\" with a conversationalReply for chit-chat.\n")
	b.WriteString("- Set clarificationNeeded when required parameters are missing or ambiguous.\n")
	b.WriteString("- Never invent token amounts, addresses or chain ids.\n")
	return b.String()
}

// parseTool describes the reserved parse_intent tool. Per-skill
// parameter schemas are embedded so the model fills params precisely.
func (p *Parser) parseTool() llm.Tool {
	actions := make([]string, 0)
	skillParams := make(map[string]interface{})
	for _, skill := range p.registry.List() {
		actions = append(actions, skill.Name)
		skillParams[skill.Name] = skill.Schema.ToolParameters()
	}
	actions = append(actions, ActionUnknown)
	sort.Strings(actions)

	return llm.Tool{
		Name:        parseIntentTool,
		Description: "Report the structured intents extracted from the user's message.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"intents": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"action": map[string]interface{}{
								"type": "string",
								"enum": actions,
							},
							"params": map[string]interface{}{
								"type":        "object",
								"description": "Arguments for the chosen skill, matching its schema.",
							},
							"confidence": map[string]interface{}{
								"type":    "number",
								"minimum": 0,
								"maximum": 1,
							},
						},
						"required": []string{"action", "params", "confidence"},
					},
				},
				"clarificationNeeded":   map[string]interface{}{"type": "boolean"},
				"clarificationQuestion": map[string]interface{}{"type": "string"},
				"conversationalReply":   map[string]interface{}{"type": "string"},
				"skillSchemas": map[string]interface{}{
					"type":        "object",
					"description": "Reference only: parameter schema per skill.",
					"properties":  skillParams,
				},
			},
			"required": []string{"intents", "clarificationNeeded"},
		},
	}
}
