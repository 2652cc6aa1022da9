package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstraints_TrackReservedGroups(t *testing.T) {
	s := New()
	c := s.Constraints()

	require.NoError(t, s.Apply(Entry{GroupPerPlayer, "seats", true}))
	require.NoError(t, s.Apply(Entry{GroupPerPlayer, "nicks", true}))
	require.NoError(t, s.Apply(Entry{GroupUnique, "seats", "seat"}))
	assert.Equal(t, []string{"nicks", "seats"}, c.PerPlayerGroups())
	field, ok := c.UniqueFieldOf("seats")
	require.True(t, ok)
	assert.Equal(t, "seat", field)

	// Tombstones and non-canonical values clear the rule.
	require.NoError(t, s.Apply(Entry{GroupPerPlayer, "nicks", nil}))
	require.NoError(t, s.Apply(Entry{GroupPerPlayer, "seats", false}))
	require.NoError(t, s.Apply(Entry{GroupUnique, "seats", 12.0}))
	assert.Empty(t, c.PerPlayerGroups())
	_, ok = c.UniqueFieldOf("seats")
	assert.False(t, ok)

	// The reserved entries themselves stay ordinary store entries.
	_, ok = s.Get(GroupUnique, "seats")
	assert.True(t, ok)
}

func TestEntryJSON(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    Entry
		wantErr bool
	}{
		{name: "string value", raw: `["foo","bar","baz"]`, want: Entry{"foo", "bar", "baz"}},
		{name: "object value", raw: `["foo","bar",{"x":1}]`, want: Entry{"foo", "bar", map[string]any{"x": 1.0}}},
		{name: "tombstone", raw: `["foo","bar",null]`, want: Entry{"foo", "bar", nil}},
		{name: "too short", raw: `["foo","bar"]`, wantErr: true},
		{name: "not an array", raw: `{"group":"foo"}`, wantErr: true},
		{name: "numeric key", raw: `["foo",1,"baz"]`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got Entry
			err := json.Unmarshal([]byte(tc.raw), &got)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrMalformedEntry)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	out, err := json.Marshal([]Entry{{"foo", "bar", nil}, {"unique", "foo", "x"}})
	require.NoError(t, err)
	assert.JSONEq(t, `[["foo","bar",null],["unique","foo","x"]]`, string(out))
}
