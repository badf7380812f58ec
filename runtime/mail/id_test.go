package mail

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEntryID(t *testing.T) {
	id, err := ParseEntryID("1726000000123-7")
	require.NoError(t, err)
	require.Equal(t, EntryID{Ms: 1726000000123, Seq: 7}, id)
	require.Equal(t, "1726000000123-7", id.String())
}

func TestParseEntryIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "123", "a-b", "12-", "-3", "1.5-0", "-1-2"} {
		_, err := ParseEntryID(s)
		require.Error(t, err, "id %q", s)
	}
}

func TestEntryIDOrdering(t *testing.T) {
	a := EntryID{Ms: 100, Seq: 0}
	b := EntryID{Ms: 100, Seq: 1}
	c := EntryID{Ms: 101, Seq: 0}

	require.True(t, a.Less(b))
	require.True(t, b.Less(c))
	require.True(t, a.Less(c))
	require.False(t, c.Less(a))
	require.Equal(t, 0, a.Compare(a))
	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, 1, c.Compare(b))
}

func TestEntryIDNumericNotLexicographic(t *testing.T) {
	// "9-0" sorts after "10-0" lexicographically; numeric comparison must
	// order it first.
	small := EntryID{Ms: 9, Seq: 0}
	big := EntryID{Ms: 10, Seq: 0}
	require.True(t, small.Less(big))

	require.True(t, EntryID{Ms: 1, Seq: 9}.Less(EntryID{Ms: 1, Seq: 10}))
}

func TestEntryIDIsZero(t *testing.T) {
	require.True(t, EntryID{}.IsZero())
	require.False(t, EntryID{Ms: 1}.IsZero())
}
