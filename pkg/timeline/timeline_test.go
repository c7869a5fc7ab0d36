package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func letters(titles ...string) []Entry {
	out := make([]Entry, len(titles))
	for i, t := range titles {
		out[i] = Entry{Emoji: "*", Title: t, Date: "d"}
	}
	return out
}

func titles(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Title
	}
	return out
}

func TestReorder(t *testing.T) {
	in := letters("A", "B", "C", "D")

	for _, tc := range []struct {
		from, to int
		want     []string
	}{
		{0, 2, []string{"B", "C", "A", "D"}},
		{3, 0, []string{"D", "A", "B", "C"}},
		{1, 1, []string{"A", "B", "C", "D"}},
		{0, 3, []string{"B", "C", "D", "A"}},
		{2, 1, []string{"A", "C", "B", "D"}},
	} {
		out, err := Reorder(in, tc.from, tc.to)
		require.NoError(t, err)
		assert.Equal(t, tc.want, titles(out), "move %d to %d", tc.from, tc.to)
		assert.ElementsMatch(t, titles(in), titles(out))
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, titles(in), "input must not be mutated")
}

func TestReorderOutOfRange(t *testing.T) {
	in := letters("A", "B")
	_, err := Reorder(in, 2, 0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = Reorder(in, 0, -1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestEdit(t *testing.T) {
	in := letters("A", "B")
	out, err := Edit(in, 1, FieldTitle, "  Bee ")
	require.NoError(t, err)
	assert.Equal(t, "Bee", out[1].Title)
	assert.Equal(t, "B", in[1].Title)

	out, err = Edit(out, 0, FieldDate, "01.01.2026")
	require.NoError(t, err)
	assert.Equal(t, "01.01.2026", out[0].Date)

	_, err = Edit(in, 5, FieldTitle, "x")
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = Edit(in, 0, Field("colour"), "x")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestParseField(t *testing.T) {
	f, err := ParseField(" Title ")
	require.NoError(t, err)
	assert.Equal(t, FieldTitle, f)
	_, err = ParseField("when")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestAdd(t *testing.T) {
	in := Defaults()
	e := Entry{Emoji: "🎉", Title: "Test", Date: "01.01.2026"}
	out, err := Add(in, e)
	require.NoError(t, err)
	require.Len(t, out, len(in)+1)
	assert.Equal(t, e, out[len(out)-1])

	_, err = Add(in, Entry{Emoji: "🎉", Title: "  ", Date: "01.01.2026"})
	assert.ErrorIs(t, err, ErrIncompleteEntry)
}

func TestResetReturnsFreshDefaults(t *testing.T) {
	a := Reset()
	a[0].Title = "changed"
	assert.Equal(t, "Start", Reset()[0].Title)
	assert.Len(t, Defaults(), 5)
}

func TestReconcile(t *testing.T) {
	local := letters("A")

	out, applied := Reconcile(local, nil)
	assert.False(t, applied)
	assert.Equal(t, local, out)

	out, applied = Reconcile(local, &Document{})
	assert.False(t, applied)
	assert.Equal(t, local, out)

	remote := &Document{Entries: letters("X", "Y")}
	out, applied = Reconcile(local, remote)
	assert.True(t, applied)
	assert.Equal(t, []string{"X", "Y"}, titles(out))

	out, applied = Reconcile(local, &Document{Entries: []Entry{}})
	assert.True(t, applied)
	assert.Empty(t, out)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "Start — 19.06.2024 • Talked for 5 hours — 02.10.2024 • 1st meet — cycled together — 21.10.2024", Preview(Defaults()))
	assert.Equal(t, "A — d", Preview(letters("A")))
	assert.Equal(t, "", Preview(nil))
}

func TestRender(t *testing.T) {
	assert.Equal(t, " 1. *  A  (d)\n 2. *  B  (d)\n", Render(letters("A", "B")))
}
