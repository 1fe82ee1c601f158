package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/netwatch/internal/netwatch"
)

func TestDueEveryMinute(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, time.March, 4, 13, 37, 42, 500, time.UTC)
	for i := 0; i < 90; i++ {
		due, err := Due("* * * * *", start.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.True(t, due)
	}
}

func TestDueNewYearOnly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2026, time.January, 1, 0, 0, 59, 0, time.UTC), true},
		{time.Date(2026, time.January, 1, 0, 1, 0, 0, time.UTC), false},
		{time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC), false},
		{time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), false},
		{time.Date(2025, time.December, 31, 23, 59, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		due, err := Due("0 0 1 1 *", tc.at)
		require.NoError(t, err)
		require.Equal(t, tc.want, due, tc.at.String())
	}
}

func TestDueUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2026, time.June, 1, 9, 0, 0, 0, loc)
	due, err := Due("0 9 * * *", at)
	require.NoError(t, err)
	require.True(t, due)

	due, err = Due("0 9 * * *", at.UTC())
	require.NoError(t, err)
	require.False(t, due)
}

func TestParseRejectsInvalidExpressions(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"", "every minute", "* * * *", "0 * * * * *", "61 * * * *", "@hourly"} {
		err := Validate(expr)
		require.ErrorIs(t, err, netwatch.ErrValidation, expr)
	}
	require.NoError(t, Validate("*/15 9-17 * * 1-5"))
}
