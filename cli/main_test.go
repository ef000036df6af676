package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banminseok/assistantAPI/internal/domain"
	"github.com/banminseok/assistantAPI/internal/transport/ws/protocol"
)

func typed(typ string) protocol.BaseMessage {
	return protocol.BaseMessage{Type: typ}
}

func TestRenderStreamsOnlyNewText(t *testing.T) {
	var out bytes.Buffer
	c := &Client{out: &out, idle: make(chan struct{}, 1)}

	c.render(frame{BaseMessage: typed(protocol.TypeMessageStarted), Role: domain.RoleUser})
	c.render(frame{BaseMessage: typed(protocol.TypeDelta), Text: "capital of France"})
	c.render(frame{BaseMessage: typed(protocol.TypeMessageStarted), Role: domain.RoleAssistant})
	c.render(frame{BaseMessage: typed(protocol.TypeDelta), Text: "Paris"})
	c.render(frame{BaseMessage: typed(protocol.TypeDelta), Text: "Paris is the capital."})
	c.render(frame{BaseMessage: typed(protocol.TypeDone), Text: "Paris is the capital."})

	assert.Equal(t, "[assistant] Paris is the capital.\n", out.String())
	assert.Len(t, c.idle, 1)
}

func TestRenderHistoryAndNotices(t *testing.T) {
	var out bytes.Buffer
	c := &Client{out: &out, idle: make(chan struct{}, 1)}

	c.render(frame{BaseMessage: typed(protocol.TypeHistory), Messages: []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	}})
	c.drainIdle()
	c.render(frame{BaseMessage: typed(protocol.TypeWarning), Message: "please enter your OpenAI API key to continue"})
	c.render(frame{BaseMessage: typed(protocol.TypeError), Code: "run_failed", Message: "boom"})

	assert.Equal(t, "[user] hi\n[assistant] hello\nwarning: please enter your OpenAI API key to continue\n\nerror (run_failed): boom\n", out.String())
}
