package schema_test

import (
	"testing"

	// Packages
	schema "github.com/evai-dev/evai-go/pkg/schema"
	assert "github.com/stretchr/testify/assert"
)

func Test_stopreason_001(t *testing.T) {
	assert := assert.New(t)

	info := schema.NewStopInfo(schema.StopEndTurn, "")
	assert.Equal(schema.StopEndTurn, info.Reason)
	assert.Empty(info.Message)
	assert.False(info.ShouldNotify)
}

func Test_stopreason_002(t *testing.T) {
	assert := assert.New(t)

	info := schema.NewStopInfo(schema.StopMaxTokens, "")
	assert.True(info.ShouldNotify)
	assert.Contains(info.Message, "truncated")
}

func Test_stopreason_003(t *testing.T) {
	assert := assert.New(t)

	info := schema.NewStopInfo(schema.StopSequence, "###")
	assert.Equal("###", info.StopSequence)
	assert.Contains(info.Message, "###")
	assert.False(info.ShouldNotify)
}

func Test_stopreason_004(t *testing.T) {
	assert := assert.New(t)

	// Unrecognized reasons are flagged for notification
	info := schema.NewStopInfo(schema.StopReason("pause_turn"), "")
	assert.True(info.ShouldNotify)
	assert.Contains(info.Message, "pause_turn")
}

func Test_stopreason_005(t *testing.T) {
	assert := assert.New(t)

	assert.True(schema.StopEndTurn.Terminal())
	assert.True(schema.StopMaxTokens.Terminal())
	assert.True(schema.StopSequence.Terminal())
	assert.False(schema.StopToolUse.Terminal())
}
