package judge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseJSONAcceptsRawJSON(t *testing.T) {
	var v Verdict
	require.NoError(t, ParseJSON(`{"achieved":true,"score":92,"reason":"looks good"}`, &v))
	require.True(t, v.Achieved)
	require.Equal(t, 92.0, v.Score)
}

func TestParseJSONAcceptsFencedJSON(t *testing.T) {
	var v Verdict
	raw := "```json\n{\"achieved\":false,\"reason\":\"missing tests\"}\n```"
	require.NoError(t, ParseJSON(raw, &v))
	require.False(t, v.Achieved)
	require.Equal(t, "missing tests", v.Reason)
}

func TestParseJSONAcceptsBareFence(t *testing.T) {
	var v Verdict
	raw := "```\n{\"score\":50}\n```"
	require.NoError(t, ParseJSON(raw, &v))
	require.Equal(t, 50.0, v.Score)
}

func TestParseJSONMalformedReturnsError(t *testing.T) {
	var v Verdict
	err := ParseJSON("not json at all", &v)
	require.Error(t, err)
}
