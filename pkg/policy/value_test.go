package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRoundTrip(t *testing.T) {
	raw := []byte(`{"constraints":{"budget_month":5000,"regions":["us","eu"],"strict":true,"note":null}}`)

	var goal GoalDSL
	require.NoError(t, json.Unmarshal(raw, &goal))

	budget, ok := goal.Constraints["budget_month"].Float()
	require.True(t, ok)
	assert.Equal(t, 5000.0, budget)

	assert.Equal(t, []string{"us", "eu"}, goal.Constraints["regions"].Strings())

	strict, ok := goal.Constraints["strict"].Truthy()
	require.True(t, ok)
	assert.True(t, strict)

	assert.Equal(t, KindNull, goal.Constraints["note"].Kind())

	// survives re-encoding
	out, err := json.Marshal(goal.Constraints["regions"])
	require.NoError(t, err)
	assert.JSONEq(t, `["us","eu"]`, string(out))
}

func TestValueNumericCasts(t *testing.T) {
	f, ok := String("12.5").Float()
	require.True(t, ok)
	assert.Equal(t, 12.5, f)

	_, ok = String("twelve").Float()
	assert.False(t, ok)

	_, ok = Bool(true).Float()
	assert.False(t, ok)

	b, ok := String("true").Truthy()
	require.True(t, ok)
	assert.True(t, b)
}

func TestZeroValueIsNull(t *testing.T) {
	var m map[string]Value
	_, ok := m["missing"].Float()
	assert.False(t, ok)
	assert.Equal(t, KindNull, m["missing"].Kind())
}
