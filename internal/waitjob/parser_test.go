package waitjob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict_FinalJSON(t *testing.T) {
	now := time.Now()
	reply := "The dialog looks closed.\nFINAL_JSON: {\"decision\": \"resolved\", \"confidence\": 0.9, \"evidence\": [\"dialog gone\"], \"summary\": \"closed\"}"

	v := ParseVerdict(reply, 0.75, now)

	require.Equal(t, LabelResolved, v.Label)
	assert.Equal(t, 0.9, v.Confidence)
	assert.Contains(t, v.Description, "closed")
}

func TestParseVerdict_FinalJSON_PromotesWatchingToPartial(t *testing.T) {
	now := time.Now()
	reply := `FINAL_JSON: {"decision": "watching", "confidence": 0.8, "evidence": ["spinner slowing"], "summary": "not sure"}`

	v := ParseVerdict(reply, 0.75, now)

	assert.Equal(t, LabelPartial, v.Label)
}

func TestParseVerdict_FinalJSON_NoPromotionWithoutEvidence(t *testing.T) {
	now := time.Now()
	reply := `FINAL_JSON: {"decision": "watching", "confidence": 0.9, "evidence": [], "summary": "nothing"}`

	v := ParseVerdict(reply, 0.75, now)

	assert.Equal(t, LabelWatching, v.Label)
}

func TestParseVerdict_LinePrefixFallback(t *testing.T) {
	now := time.Now()

	v := ParseVerdict("NO: nothing happened yet", 0.75, now)

	assert.Equal(t, LabelWatching, v.Label)
	assert.Equal(t, "nothing happened yet", v.Description)
}

func TestParseVerdict_EmptyFallsBackToWatching(t *testing.T) {
	now := time.Now()

	v := ParseVerdict("", 0.75, now)

	assert.Equal(t, LabelWatching, v.Label)
	assert.Equal(t, "", v.Description)
}

func TestParseVerdict_MalformedJSONFallsThroughToLineScan(t *testing.T) {
	now := time.Now()

	v := ParseVerdict("FINAL_JSON: {not json}\nYES: looks done", 0.75, now)

	assert.Equal(t, LabelResolved, v.Label)
}

func TestParseVerdict_NeverPanicsOnGarbage(t *testing.T) {
	now := time.Now()
	inputs := []string{
		"\x00\x01binary garbage",
		"FINAL_JSON:",
		"FINAL_JSON: {\"decision\": 5}",
		"completely unrelated text with no markers",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			v := ParseVerdict(in, 0.75, now)
			assert.Equal(t, LabelWatching, v.Label)
		})
	}
}
