package bus

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsole_RendersRecords(t *testing.T) {
	var sb strings.Builder
	c := &Console{W: &sb}
	ctx := context.Background()

	require.NoError(t, c.SendMessage(ctx, Text("hello")))
	require.NoError(t, c.SendMessage(ctx, Panel("Status", "all good",
		Field{Name: "Host", Value: "box"})))
	require.NoError(t, c.SendMessage(ctx, ErrorPanel("it broke")))
	require.NoError(t, c.SendMessage(ctx, Buttons("Working…", Button{ID: "cancel-query", Label: "Cancel"})))

	out := sb.String()
	assert.Contains(t, out, "hello\n")
	assert.Contains(t, out, "Status\n------\n")
	assert.Contains(t, out, "Host: box")
	assert.Contains(t, out, "!! Error")
	assert.Contains(t, out, "Working… [Cancel]")
}

func TestConsole_UnknownKind(t *testing.T) {
	c := &Console{W: &strings.Builder{}}
	assert.Error(t, c.SendMessage(context.Background(), Content{Kind: Kind("bogus")}))
}
