package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	ev, err := parseCommand("/send C1 hello there")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"type": "send_message", "conversationId": "C1", "content": "hello there"}, ev)

	ev, err = parseCommand(`{"type":"typing","conversationId":"C1","isTyping":true}`)
	require.NoError(t, err)
	assert.Equal(t, "typing", ev["type"])
	assert.Equal(t, true, ev["isTyping"])

	_, err = parseCommand("/send C1")
	assert.Error(t, err)
	_, err = parseCommand("/dance")
	assert.Error(t, err)
	_, err = parseCommand("{broken")
	assert.Error(t, err)
}
