package jsonstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T) (*Parser, *[]Event) {
	t.Helper()
	events := &[]Event{}
	p := New(Options{AllowControlCharacters: true, SwallowErrors: true}, func(evt Event) {
		*events = append(*events, evt)
	})
	return p, events
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func finalOf(t *testing.T, events []Event) any {
	t.Helper()
	for _, e := range events {
		if e.Kind == EventFinal {
			return e.Value
		}
	}
	t.Fatal("no final event")
	return nil
}

func TestN1CarriesPreamble(t *testing.T) {
	t.Parallel()

	p, events := collect(t)
	p.WriteString("Sure, here is the JSON you asked for:\n")
	p.WriteString(`{"a": 1}`)
	require.NoError(t, p.Close())

	require.GreaterOrEqual(t, len(*events), 2)
	require.Equal(t, EventN1, (*events)[0].Kind)
	require.Equal(t, "Sure, here is the JSON you asked for:\n", (*events)[0].Prefix)
	require.Equal(t, map[string]any{"a": float64(1)}, finalOf(t, *events))
}

func TestAbruptTerminationClosesImplicitly(t *testing.T) {
	t.Parallel()

	p, events := collect(t)
	p.WriteString(`{"intention":"USE_TOOLS","tools":[{"name":"x"`)
	require.NoError(t, p.Close())

	final := finalOf(t, *events)
	require.Equal(t, map[string]any{
		"intention": "USE_TOOLS",
		"tools":     []any{map[string]any{"name": "x"}},
	}, final)
}

func TestSnapshotsAreMonotone(t *testing.T) {
	t.Parallel()

	p, events := collect(t)
	for _, chunk := range []string{
		`{"thoughts":"loo`, `king at the page","tools":[`, `{"name":"bro`, `wse"}]}`,
	} {
		p.WriteString(chunk)
	}
	require.NoError(t, p.Close())

	var prev map[string]any
	for _, evt := range *events {
		if evt.Kind != EventSnapshot {
			continue
		}
		cur, ok := evt.Value.(map[string]any)
		require.True(t, ok)
		for key, prevVal := range prev {
			curVal, present := cur[key]
			require.True(t, present, "key %q retracted", key)
			if ps, isStr := prevVal.(string); isStr {
				require.Contains(t, curVal.(string), ps)
			}
		}
		prev = cur
	}
	require.Equal(t, map[string]any{
		"thoughts": "looking at the page",
		"tools":    []any{map[string]any{"name": "browse"}},
	}, finalOf(t, *events))
}

func TestIncompleteKeysAreHeldBack(t *testing.T) {
	t.Parallel()

	p, events := collect(t)
	p.WriteString(`{"inten`)
	p.WriteString(`tion":"US`)
	require.NoError(t, p.Close())

	for _, evt := range *events {
		if evt.Kind != EventSnapshot && evt.Kind != EventFinal {
			continue
		}
		obj := evt.Value.(map[string]any)
		for key := range obj {
			require.Equal(t, "intention", key)
		}
	}
	require.Equal(t, map[string]any{"intention": "US"}, finalOf(t, *events))
}

func TestLiteralCasingVariants(t *testing.T) {
	t.Parallel()

	p, events := collect(t)
	p.WriteString(`{"a": True, "b": FALSE, "c": Null}`)
	require.NoError(t, p.Close())

	require.Equal(t, map[string]any{"a": true, "b": false, "c": nil}, finalOf(t, *events))
}

func TestTrailingProseAfterObjectIsDropped(t *testing.T) {
	t.Parallel()

	p, events := collect(t)
	p.WriteString(`{"done": true} I hope that helps!`)
	require.NoError(t, p.Close())

	require.Equal(t, map[string]any{"done": true}, finalOf(t, *events))
}

func TestN2FiresOnSecondTopLevelObject(t *testing.T) {
	t.Parallel()

	p, events := collect(t)
	p.WriteString(`{"a":1} and then {"b":2}`)
	require.NoError(t, p.Close())

	var sawN2 bool
	for _, evt := range *events {
		if evt.Kind == EventN2 {
			sawN2 = true
			require.Equal(t, " and then ", evt.Prefix)
		}
	}
	require.True(t, sawN2)
}

func TestNoFinalWithoutTopLevelValue(t *testing.T) {
	t.Parallel()

	p, events := collect(t)
	p.WriteString("plain prose, no json here")
	require.NoError(t, p.Close())

	require.Empty(t, kinds(*events))
}

func TestPartialNumberIsFixed(t *testing.T) {
	t.Parallel()

	p, events := collect(t)
	p.WriteString(`{"n": 12.`)
	require.NoError(t, p.Close())

	require.Equal(t, map[string]any{"n": float64(12)}, finalOf(t, *events))
}

func TestEscapesAndUnicode(t *testing.T) {
	t.Parallel()

	p, events := collect(t)
	p.WriteString(`{"s": "line\nbreak é 😀"}`)
	require.NoError(t, p.Close())

	require.Equal(t, map[string]any{"s": "line\nbreak é 😀"}, finalOf(t, *events))
}

func TestDuplicateSnapshotsSuppressed(t *testing.T) {
	t.Parallel()

	p, events := collect(t)
	p.WriteString(`{"a":1}`)
	p.WriteString("   ")
	p.WriteString("\n")
	require.NoError(t, p.Close())

	var snapshots int
	for _, evt := range *events {
		if evt.Kind == EventSnapshot {
			snapshots++
		}
	}
	require.Equal(t, 1, snapshots)
}

func TestParseLenientArguments(t *testing.T) {
	t.Parallel()

	value, ok := ParseLenient(`{"url": "https://a.test"`)
	require.True(t, ok)
	require.Equal(t, map[string]any{"url": "https://a.test"}, value)

	_, ok = ParseLenient("nothing structured")
	require.False(t, ok)
}
