package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventContext_KeepsUnknownKeys(t *testing.T) {
	raw := `{"recipientId":"u2","recipientEmail":"u2@example.com","thread":{"id":"t9"}}`

	var ctx EventContext
	require.NoError(t, json.Unmarshal([]byte(raw), &ctx))
	assert.Equal(t, "u2", ctx.RecipientID)
	assert.Equal(t, "u2@example.com", ctx.RecipientEmail)
	assert.JSONEq(t, `{"id":"t9"}`, string(ctx.Extra["thread"]))

	out, err := json.Marshal(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestEventContext_NonStringRecipientIsPreserved(t *testing.T) {
	raw := `{"recipientId":42,"recipientEmail":["a@example.com"],"thread":"t9"}`

	var ctx EventContext
	require.NoError(t, json.Unmarshal([]byte(raw), &ctx))
	assert.Empty(t, ctx.RecipientID)
	assert.Empty(t, ctx.RecipientEmail)

	out, err := json.Marshal(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}
