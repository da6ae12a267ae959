package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const approvalYAML = `
id: approval
name: Approval
version: 2
trigger:
  events: [record.created]
  object: expense
guards:
  canSubmit:
    type: fieldEquals
    params:
      field: ready
      value: true
states:
  draft:
    initial: true
    onEnter:
      - type: log
        params:
          message: "Expense {{title}} opened"
    transitions:
      submit:
        target: pending_approval
        guards: [canSubmit]
  pending_approval:
    transitions:
      approve:
        target: approved
      reject:
        target: rejected
  approved:
    final: true
  rejected:
    final: true
`

func TestParseDefinition(t *testing.T) {
	t.Run("yaml document", func(t *testing.T) {
		def, err := ParseDefinition([]byte(approvalYAML))
		require.NoError(t, err)

		assert.Equal(t, "approval", def.ID)
		assert.Equal(t, 2, def.Version)
		assert.Equal(t, "draft", def.InitialState)
		assert.Equal(t, "draft", def.States["draft"].Name)
		assert.Equal(t, []string{"approved", "rejected"}, def.FinalStates())

		require.NotNil(t, def.Trigger)
		assert.True(t, def.Trigger.Matches("record.created", "expense"))

		binding, ok := def.Guards["canSubmit"]
		require.True(t, ok)
		assert.Equal(t, "fieldEquals", binding.Type)
		assert.Equal(t, "ready", binding.Params["field"])

		submit := def.States["draft"].Transitions["submit"]
		assert.Equal(t, "pending_approval", submit.Target)
		assert.Equal(t, []string{"canSubmit"}, submit.Guards)
	})

	t.Run("json document", func(t *testing.T) {
		doc := `{
			"id": "tiny",
			"states": {
				"open":   {"initial": true, "transitions": {"close": {"target": "closed"}}},
				"closed": {"final": true}
			}
		}`
		def, err := ParseDefinition([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, "tiny", def.ID)
		assert.Equal(t, 1, def.Version, "version should default to 1")
		assert.Equal(t, "open", def.InitialState)
	})

	t.Run("malformed document", func(t *testing.T) {
		_, err := ParseDefinition([]byte("id: [unclosed"))
		require.Error(t, err)
		assert.Equal(t, ErrCodeDefinitionParse, ErrorCode(err))
	})

	t.Run("well formed but invalid", func(t *testing.T) {
		doc := `
id: broken
states:
  only:
    initial: true
`
		_, err := ParseDefinition([]byte(doc))
		require.Error(t, err)
		assert.True(t, IsInvalidDefinition(err))
		assert.Contains(t, err.Error(), "at least one final state")
	})
}

func TestParseDefinitionSet(t *testing.T) {
	t.Run("multiple workflows", func(t *testing.T) {
		doc := `
version: 1
workflows:
  - id: first
    states:
      a: {initial: true, transitions: {go: {target: b}}}
      b: {final: true}
  - id: second
    states:
      x: {initial: true, transitions: {go: {target: y}}}
      y: {final: true}
`
		set, err := ParseDefinitionSet([]byte(doc))
		require.NoError(t, err)
		require.Len(t, set.Workflows, 2)
		assert.Equal(t, "first", set.Workflows[0].ID)
		assert.Equal(t, "second", set.Workflows[1].ID)
		assert.Equal(t, "a", set.Workflows[0].InitialState)
	})

	t.Run("error names the offending entry", func(t *testing.T) {
		doc := `
workflows:
  - id: good
    states:
      a: {initial: true, transitions: {go: {target: b}}}
      b: {final: true}
  - id: bad
    states:
      a: {initial: true}
`
		_, err := ParseDefinitionSet([]byte(doc))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workflows[1]")
		assert.True(t, IsInvalidDefinition(err))
	})
}

func TestMarshalDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(approvalYAML))
	require.NoError(t, err)

	data, err := MarshalDefinition(def)
	require.NoError(t, err)

	again, err := ParseDefinition(data)
	require.NoError(t, err)
	assert.Equal(t, def.ID, again.ID)
	assert.Equal(t, def.Version, again.Version)
	assert.Equal(t, def.FinalStates(), again.FinalStates())
}
