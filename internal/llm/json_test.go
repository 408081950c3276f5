package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "raw", text: `  {"a":1}  `, want: `{"a":1}`},
		{name: "json fence", text: "Here you go:\n```json\n{\"a\":1}\n```\nEnjoy", want: `{"a":1}`},
		{name: "bare fence", text: "```\n{\"a\":2}\n```", want: `{"a":2}`},
		{name: "json label wins over earlier bare fence", text: "```txt\nnote\n```\n```json\n{\"a\":3}\n```", want: `{"a":3}`},
		{name: "unterminated fence", text: "```json\n{\"a\":4}", want: `{"a":4}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.text))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Items []string `json:"predicted_items"`
	}
	require.NoError(t, DecodeJSON("gemini", "```json\n{\"predicted_items\":[\"Milk\"]}\n```", &out))
	assert.Equal(t, []string{"Milk"}, out.Items)

	err := DecodeJSON("gemini", "I cannot help with that", &out)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "gemini", perr.Provider)

	err = DecodeJSON("gemini", "   ", &out)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "empty response", perr.Reason)
}
