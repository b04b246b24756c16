package deepargo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateARData(t *testing.T) {
	type args struct {
		opts ARDataOptions
	}
	tests := []struct {
		name    string
		args    args
		wantErr bool
	}{
		{
			name: "defaults",
			args: args{opts: ARDataOptions{Timesteps: 50, NSeries: 3, Seed: 1}},
		},
		{
			name: "with trend",
			args: args{opts: ARDataOptions{Seasonality: 10, Timesteps: 400, NSeries: 100, Trend: 2, Seed: 42}},
		},
		{
			name:    "no timesteps",
			args:    args{opts: ARDataOptions{NSeries: 3}},
			wantErr: true,
		},
		{
			name:    "no series",
			args:    args{opts: ARDataOptions{Timesteps: 50}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			panel, err := GenerateARData(tt.args.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, panel, tt.args.opts.NSeries)
			for _, s := range panel {
				assert.Len(t, s.Values, tt.args.opts.Timesteps)
				assert.Equal(t, "2", s.Static)
			}
		})
	}
}

func TestGenerateARDataDeterministic(t *testing.T) {
	opts := ARDataOptions{Timesteps: 100, NSeries: 5, Trend: 2, Seed: 7}
	a, err := GenerateARData(opts)
	require.NoError(t, err)
	b, err := GenerateARData(opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	opts.Seed = 8
	c, err := GenerateARData(opts)
	require.NoError(t, err)
	assert.NotEqual(t, a[0].Values, c[0].Values)
}

func TestPanelSampleIDs(t *testing.T) {
	panel, err := GenerateARData(ARDataOptions{Timesteps: 10, NSeries: 20, Seed: 1})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	ids := panel.SampleIDs(5, rng)
	assert.Len(t, ids, 5)
	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		_, err := panel.ByID(id)
		assert.NoError(t, err)
	}

	// n larger than the panel is capped
	assert.Len(t, panel.SampleIDs(100, rng), 20)
}

func TestPanelSplit(t *testing.T) {
	panel, err := GenerateARData(ARDataOptions{Timesteps: 10, NSeries: 10, Seed: 1})
	require.NoError(t, err)

	train, val := panel.Split([]string{"3", "7"})
	assert.Len(t, train, 8)
	assert.Len(t, val, 2)
	assert.ElementsMatch(t, []string{"3", "7"}, val.IDs())
	for _, id := range train.IDs() {
		assert.NotContains(t, []string{"3", "7"}, id)
	}
}

func TestPanelByID(t *testing.T) {
	panel := Panel{{ID: "a"}, {ID: "b"}}
	s, err := panel.ByID("b")
	require.NoError(t, err)
	assert.Equal(t, "b", s.ID)

	_, err = panel.ByID("missing")
	assert.Error(t, err)
}
