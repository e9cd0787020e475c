package prefixed_uuid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewString(t *testing.T) {
	id := NewString("mem")
	assert.Regexp(t, `^mem-[0-9a-f-]{36}$`, id)

	other := NewString("mem")
	assert.NotEqual(t, id, other)
}

func TestFromString(t *testing.T) {
	original := New("mem")

	parsed, err := FromString(original.String())
	require.NoError(t, err)
	assert.Equal(t, original, parsed)

	_, err = FromString("not-a-uuid")
	assert.Error(t, err)

	_, err = FromString("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	id := NewString("mem")

	assert.NoError(t, Validate(id, "mem"))
	assert.Error(t, Validate(id, "usr"))
	assert.Error(t, Validate("mem-garbage", "mem"))
}

func TestJSONRoundTrip(t *testing.T) {
	original := New("mem")

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var parsed PrefixedUUID
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, original.String(), parsed.String())
}
