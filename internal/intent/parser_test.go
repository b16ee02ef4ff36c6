package intent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/chainclaw/chainclaw/internal/adapters/llm"
	"github.com/chainclaw/chainclaw/internal/skills"
	"github.com/chainclaw/chainclaw/pkg/models"
)

func testRegistry(t *testing.T) *skills.Registry {
	t.Helper()

	reg := skills.NewRegistry()
	ok := func(_ context.Context, _ map[string]interface{}, _ *skills.Context) (*skills.Result, error) {
		return &skills.Result{Success: true, Message: "ok"}, nil
	}
	for _, s := range []*skills.Skill{
		{
			Name:        "balance",
			Description: "Show wallet balances across chains",
			Schema:      skills.Schema{},
			Handler:     ok,
		},
		{
			Name:        "swap",
			Description: "Swap one token for another",
			Schema: skills.Schema{
				"from_token": {Type: skills.TypeString, Required: true},
				"to_token":   {Type: skills.TypeString, Required: true},
			},
			Handler: ok,
		},
	} {
		if err := reg.Register(s); err != nil {
			t.Fatalf("Register(%s): %v", s.Name, err)
		}
	}
	return reg
}

func toolResponse(t *testing.T, payload interface{}) *llm.Response {
	t.Helper()

	args, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &llm.Response{
		ToolCalls: []llm.ToolCall{{Name: "parse_intent", Arguments: args}},
	}
}

func TestParseToolCall(t *testing.T) {
	mock := &llm.MockProvider{
		Responses: []*llm.Response{toolResponse(t, map[string]interface{}{
			"intents": []map[string]interface{}{
				{
					"action":     "swap",
					"params":     map[string]interface{}{"from_token": "ETH", "to_token": "USDC"},
					"confidence": 0.92,
				},
				{"action": "balance", "params": map[string]interface{}{}, "confidence": 1.5},
			},
			"clarificationNeeded": false,
		})},
	}
	parser := NewParser(mock, testRegistry(t))

	result := parser.Parse(context.Background(), "swap eth to usdc then show balance", nil)
	if result.ClarificationNeeded {
		t.Fatal("unexpected clarification")
	}
	if len(result.Intents) != 2 {
		t.Fatalf("intents = %d, want 2", len(result.Intents))
	}
	if result.Intents[0].Action != "swap" || result.Intents[0].Params["from_token"] != "ETH" {
		t.Fatalf("first intent = %+v", result.Intents[0])
	}
	if result.Intents[0].RawText != "swap eth to usdc then show balance" {
		t.Fatalf("rawText = %q", result.Intents[0].RawText)
	}
	if result.Intents[1].Confidence != 1 {
		t.Fatalf("confidence not clamped: %v", result.Intents[1].Confidence)
	}
}

func TestParsePlainTextReply(t *testing.T) {
	mock := &llm.MockProvider{
		Responses: []*llm.Response{{Content: "Hey there! I can help with swaps and balances."}},
	}
	parser := NewParser(mock, testRegistry(t))

	result := parser.Parse(context.Background(), "hello", nil)
	if len(result.Intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(result.Intents))
	}
	if result.Intents[0].Action != ActionUnknown {
		t.Fatalf("action = %q, want unknown", result.Intents[0].Action)
	}
	if result.ConversationalReply != "Hey there! I can help with swaps and balances." {
		t.Fatalf("reply = %q", result.ConversationalReply)
	}
	if result.ClarificationNeeded {
		t.Fatal("unexpected clarification")
	}
}

func TestParseProviderFailure(t *testing.T) {
	mock := &llm.MockProvider{Err: errors.New("upstream 500")}
	parser := NewParser(mock, testRegistry(t))

	result := parser.Parse(context.Background(), "swap eth", nil)
	if len(result.Intents) != 0 {
		t.Fatalf("intents = %d, want 0", len(result.Intents))
	}
	if !result.ClarificationNeeded {
		t.Fatal("expected clarification")
	}
	if !strings.Contains(result.ClarificationQuestion, "I'm having trouble") {
		t.Fatalf("question = %q", result.ClarificationQuestion)
	}
}

func TestParseMalformedToolCall(t *testing.T) {
	mock := &llm.MockProvider{
		Responses: []*llm.Response{{
			Content:   "fallback text",
			ToolCalls: []llm.ToolCall{{Name: "parse_intent", Arguments: json.RawMessage(`{"intents": "nope"}`)}},
		}},
	}
	parser := NewParser(mock, testRegistry(t))

	result := parser.Parse(context.Background(), "do the thing", nil)
	if len(result.Intents) != 1 || result.Intents[0].Action != ActionUnknown {
		t.Fatalf("result = %+v", result)
	}
	if result.ConversationalReply != "fallback text" {
		t.Fatalf("reply = %q", result.ConversationalReply)
	}
}

func TestParsePromptAssembly(t *testing.T) {
	mock := &llm.MockProvider{
		Responses: []*llm.Response{{Content: "hi"}},
	}
	parser := NewParser(mock, testRegistry(t))

	history := make([]models.ConversationEntry, 0, 15)
	for i := 0; i < 15; i++ {
		history = append(history, models.ConversationEntry{Role: models.RoleUser, Content: "old"})
	}
	history = append(history, models.ConversationEntry{Role: models.RoleAssistant, Content: "latest assistant turn"})

	parser.Parse(context.Background(), "what can you do", history)

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	messages := calls[0]
	// system + bounded window + current message
	if len(messages) != 1+maxHistoryWindow+1 {
		t.Fatalf("messages = %d, want %d", len(messages), 1+maxHistoryWindow+1)
	}
	if messages[0].Role != "system" {
		t.Fatalf("first role = %q", messages[0].Role)
	}
	if !strings.Contains(messages[0].Content, "swap: Swap one token for another") {
		t.Fatalf("system prompt missing skill listing:\n%s", messages[0].Content)
	}
	if messages[len(messages)-2].Content != "latest assistant turn" {
		t.Fatalf("history not oldest-trimmed: %q", messages[len(messages)-2].Content)
	}
	if messages[len(messages)-1].Content != "what can you do" {
		t.Fatalf("last message = %q", messages[len(messages)-1].Content)
	}
}
