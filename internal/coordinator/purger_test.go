package coordinator

import (
	"context"
	"testing"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/fleet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurger(t *testing.T) {
	ctx := context.Background()

	t.Run("purges expired output", func(t *testing.T) {
		tc := newTestCoordinator(t, nil)
		id, err := tc.output.CreateSection(ctx, testJob, "Build", testNow)
		require.NoError(t, err)
		require.NoError(t, tc.output.AppendOutput(ctx, testJob, id, "output"))
		require.NoError(t, tc.output.FinishSection(ctx, testJob, id, true, testNow))
		tc.output.purgeable = []fleet.JobID{testJob}

		// populate the cache
		got, err := tc.Coordinator.output.output(ctx, testJob, id)
		require.NoError(t, err)
		require.Equal(t, "output", got)

		purger := tc.NewPurger()
		require.NoError(t, purger.purge(ctx))

		assert.Equal(t, testNow.Add(-DefaultOutputRetention), tc.output.cutoff)
		assert.Equal(t, []fleet.JobID{testJob}, tc.output.purged)

		got, err = tc.Coordinator.output.output(ctx, testJob, id)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("zero retention disables purging", func(t *testing.T) {
		tc := newTestCoordinator(t, func(cfg *Config) {
			cfg.OutputRetention = 0
		})
		tc.output.purgeable = []fleet.JobID{testJob}

		require.NoError(t, tc.NewPurger().purge(ctx))

		assert.Empty(t, tc.output.purged)
		assert.True(t, tc.output.cutoff.IsZero())
	})
}
