package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeModelJSON(t *testing.T) {
	cases := map[string]string{
		"fenced":   "```json\n{\"a\": 1}\n```",
		"trailing": `{"a": 1,}`,
		"comments": "{\n// note\n\"a\": 1 /* inline */\n}",
		"prose":    `Sure! Here it is: {"a": 1} Hope that helps.`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			require.JSONEq(t, `{"a": 1}`, SanitizeModelJSON(in))
		})
	}
}

func TestSanitizeKeepsURLs(t *testing.T) {
	out := SanitizeModelJSON(`{"src": "http://example.com/a.png"}`)
	require.JSONEq(t, `{"src": "http://example.com/a.png"}`, out)
}

func TestParseAnalysisResult(t *testing.T) {
	raw := "```json\n" + `{
  "primary": {"label": "dog", "confidence": 0.92, "box": {"x": 0.1, "y": 0.2, "w": 0.3, "h": 0.4}, "cx": 0.25, "cy": 0.4},
  "description": "a dog on grass",
  "tags": ["dog", "grass",],
}` + "\n```"

	res, err := ParseAnalysisResult(raw)
	require.NoError(t, err)
	require.Equal(t, "dog", res.Primary.Label)
	require.Equal(t, 0.92, res.Primary.Confidence)
	require.Equal(t, 0.25, res.Primary.Cx)
	require.Equal(t, []string{"dog", "grass"}, res.Tags)
}

func TestParseAnalysisResultFallbacks(t *testing.T) {
	res, err := ParseAnalysisResult("I see a dog.")
	require.NoError(t, err)
	require.Equal(t, "unclear image", res.Primary.Label)
	require.Equal(t, 0.5, res.Primary.Cx)

	res, err = ParseAnalysisResult(`{"primary": {"label": }`)
	require.NoError(t, err)
	require.Equal(t, "parse error", res.Primary.Label)

	res, err = ParseAnalysisResult(`{}`)
	require.NoError(t, err)
	require.Equal(t, 0.5, res.Primary.Cy)
	require.Equal(t, 0.5, res.Primary.Box.W)
}
