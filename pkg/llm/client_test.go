package llm

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OGODEVO/studious-system/pkg/models"
)

func intp(i int) *int { return &i }

func TestToolCallAccumulatorInterleavedFragments(t *testing.T) {
	acc := newToolCallAccumulator()

	// Two calls streamed interleaved: ids/names first, then argument
	// fragments out of index order.
	acc.add([]openai.ToolCall{
		{Index: intp(0), ID: "call_a", Function: openai.FunctionCall{Name: "wallet_balance"}},
	})
	acc.add([]openai.ToolCall{
		{Index: intp(1), ID: "call_b", Function: openai.FunctionCall{Name: "perplexity_search"}},
	})
	acc.add([]openai.ToolCall{
		{Index: intp(1), Function: openai.FunctionCall{Arguments: `{"query":`}},
		{Index: intp(0), Function: openai.FunctionCall{Arguments: `{}`}},
	})
	acc.add([]openai.ToolCall{
		{Index: intp(1), Function: openai.FunctionCall{Arguments: `"eth price"}`}},
	})

	calls := acc.freeze()
	require.Len(t, calls, 2)
	assert.Equal(t, models.ToolCall{ID: "call_a", Name: "wallet_balance", Arguments: `{}`}, calls[0])
	assert.Equal(t, models.ToolCall{ID: "call_b", Name: "perplexity_search", Arguments: `{"query":"eth price"}`}, calls[1])
}

func TestToolCallAccumulatorNilIndexFallsBackToSequential(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add([]openai.ToolCall{{ID: "call_a", Function: openai.FunctionCall{Name: "get_datetime", Arguments: "{}"}}})

	calls := acc.freeze()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_datetime", calls[0].Name)
}

func TestToolCallAccumulatorEmpty(t *testing.T) {
	assert.Nil(t, newToolCallAccumulator().freeze())
}

func TestEncodeMessagesRoles(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "persona"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "checking", ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "wallet_balance", Arguments: "{}"},
		}},
		{Role: models.RoleTool, Content: "1.25 ETH", ToolCallID: "call_1"},
	}

	enc := encodeMessages(msgs)
	require.Len(t, enc, 4)
	assert.Equal(t, "system", enc[0].Role)
	require.Len(t, enc[2].ToolCalls, 1)
	assert.Equal(t, "wallet_balance", enc[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "call_1", enc[3].ToolCallID)
}

func TestEncodeMessagesImageParts(t *testing.T) {
	msgs := []models.Message{{
		Role: models.RoleUser,
		Parts: []models.ContentPart{
			{Type: "text", Text: "what is this?"},
			{Type: "image_url", ImageURL: "https://example.com/x.png"},
		},
	}}

	enc := encodeMessages(msgs)
	require.Len(t, enc, 1)
	require.Len(t, enc[0].MultiContent, 2)
	assert.Equal(t, openai.ChatMessagePartTypeText, enc[0].MultiContent[0].Type)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, enc[0].MultiContent[1].Type)
	assert.Equal(t, "https://example.com/x.png", enc[0].MultiContent[1].ImageURL.URL)
}

func TestEncodeToolsCarriesSchema(t *testing.T) {
	tools := encodeTools([]ToolDefinition{{
		Name:        "remember_this",
		Description: "Store a fact",
		Parameters:  []byte(`{"type":"object","properties":{"text":{"type":"string"}}}`),
	}})
	require.Len(t, tools, 1)
	assert.Equal(t, openai.ToolTypeFunction, tools[0].Type)
	assert.Equal(t, "remember_this", tools[0].Function.Name)
	assert.NotNil(t, tools[0].Function.Parameters)
}

func TestNewOpenAIClientValidation(t *testing.T) {
	_, err := NewOpenAIClient(Options{Model: "gpt-4o"})
	require.Error(t, err)
	_, err = NewOpenAIClient(Options{APIKey: "sk-test"})
	require.Error(t, err)
	c, err := NewOpenAIClient(Options{APIKey: "sk-test", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", c.Model())
}
