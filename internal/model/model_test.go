package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennethnrk/echo/internal/common/constants"
)

func TestReduceKeepsOnlyActivePayload(t *testing.T) {
	content := ResponseContent{Static: "hi", Random: []string{"a", "b"}, JSON: `{"k":1}`}

	cases := []struct {
		typ  constants.ResponseType
		want string
	}{
		{constants.ResponseTypeStatic, `"hi"`},
		{constants.ResponseTypeRandom, `["a","b"]`},
		{constants.ResponseTypeJSON, `"{\"k\":1}"`},
		{"", `"hi"`},
	}
	for _, tc := range cases {
		got, err := Response{Type: tc.typ, Content: content}.Reduce()
		require.NoError(t, err)
		assert.JSONEq(t, tc.want, string(got.Content), "type %q", tc.typ)
		assert.Nil(t, got.Script)
	}
}

func TestReduceScript(t *testing.T) {
	r := Response{Type: constants.ResponseTypeStatic, Script: Script{Enabled: true, Content: "upper(content)"}}
	got, err := r.Reduce()
	require.NoError(t, err)
	require.NotNil(t, got.Script)
	assert.Equal(t, "upper(content)", *got.Script)

	r.Script.Enabled = false
	got, err = r.Reduce()
	require.NoError(t, err)
	assert.Nil(t, got.Script)

	r.Script = Script{Enabled: true, Content: "  "}
	got, err = r.Reduce()
	require.NoError(t, err)
	assert.Nil(t, got.Script)
}

func TestReduceEmptyRandomIsArray(t *testing.T) {
	got, err := Response{Type: constants.ResponseTypeRandom}.Reduce()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got.Content))
}

func TestAssignIntentIDsKeepsExisting(t *testing.T) {
	inputs := []Input{{ID: "fixed"}, {}, {}}
	AssignIntentIDs(inputs)
	assert.Equal(t, "fixed", inputs[0].ID)
	assert.NotEmpty(t, inputs[1].ID)
	assert.NotEmpty(t, inputs[2].ID)
	assert.NotEqual(t, inputs[1].ID, inputs[2].ID)
}

func TestBuildOutputIsIndexAligned(t *testing.T) {
	inputs := []Input{
		{ID: "1", Name: "greet", Response: Response{Type: constants.ResponseTypeStatic, Content: ResponseContent{Static: "hello"}}},
		{ID: "2", Name: "bye", Response: Response{Type: constants.ResponseTypeRandom, Content: ResponseContent{Random: []string{"bye", "ciao"}}}},
	}
	out, err := BuildOutput(constants.ModalityText, inputs)
	require.NoError(t, err)
	assert.Equal(t, constants.ModalityText, out.Modality)
	require.Len(t, out.Responses, 2)
	assert.Equal(t, constants.ResponseTypeRandom, out.Responses[1].Type)
	assert.Equal(t, []Intent{{ID: "1", Name: "greet"}, {ID: "2", Name: "bye"}}, out.Intents)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "text", generic["type"])

	inst := &Instance{Output: out, Modality: out.Modality}
	resp, ok := inst.Response(0)
	require.True(t, ok)
	assert.Equal(t, `"hello"`, string(resp.Content))
	_, ok = inst.Response(2)
	assert.False(t, ok)
	assert.Equal(t, "2", inst.IntentID(1))
	assert.Equal(t, "", inst.IntentID(5))
}
