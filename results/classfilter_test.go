package results

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassTable_Query(t *testing.T) {
	table := DefaultClassTable()

	tests := []struct {
		filter     string
		types      []string
		unfiltered bool
	}{
		{filter: "mx:all", unfiltered: true},
		{filter: "all", unfiltered: true},
		{filter: "sad:all", unfiltered: true},
		{filter: "mx:data", types: []string{"mx:index", "mx:integrate"}},
		{filter: "MX:SNAP", types: []string{"mx:index+strategy"}},
		{filter: "mx:sweep", types: []string{"mx:integrate"}},
		{filter: "mx:merge", types: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			q, err := table.Query("sess-1", tt.filter)
			require.NoError(t, err)
			require.Equal(t, "sess-1", q.SessionID)
			require.Equal(t, tt.unfiltered, q.Unfiltered)
			if !tt.unfiltered {
				require.Equal(t, tt.types, q.ResultTypes)
			}
		})
	}
}

func TestClassTable_UnknownClass(t *testing.T) {
	table := DefaultClassTable()

	for _, filter := range []string{"mx:bogus", "sad:data", "", "snap"} {
		_, err := table.Query("sess-1", filter)
		require.ErrorIs(t, err, ErrUnknownClass, filter)
	}
}

func TestClassTable_Merge(t *testing.T) {
	base := DefaultClassTable()
	merged := base.Merge(ClassTable{
		"SAD": {"data": {"sad:index"}},
		"mx":  {"snap": {"mx:index+strategy", "mx:index"}},
	})

	q, err := merged.Query("s", "sad:data")
	require.NoError(t, err)
	require.Equal(t, []string{"sad:index"}, q.ResultTypes)

	q, err = merged.Query("s", "mx:snap")
	require.NoError(t, err)
	require.Equal(t, []string{"mx:index+strategy", "mx:index"}, q.ResultTypes)

	// The receiver is untouched.
	q, err = base.Query("s", "mx:snap")
	require.NoError(t, err)
	require.Equal(t, []string{"mx:index+strategy"}, q.ResultTypes)

	q, err = merged.Query("s", "mx:sweep")
	require.NoError(t, err)
	require.Equal(t, []string{"mx:integrate"}, q.ResultTypes)
}

func TestClassTable_MergeLowercasesResultTypes(t *testing.T) {
	merged := DefaultClassTable().Merge(ClassTable{
		"MX": {"Strategy": {"MX:INDEX+STRATEGY", " mx:Integrate "}},
	})

	q, err := merged.Query("s", "mx:strategy")
	require.NoError(t, err)
	require.Equal(t, []string{"mx:index+strategy", "mx:integrate"}, q.ResultTypes)

	// The defaults survive the overlay.
	q, err = merged.Query("s", "mx:data")
	require.NoError(t, err)
	require.Equal(t, []string{"mx:index", "mx:integrate"}, q.ResultTypes)
}
