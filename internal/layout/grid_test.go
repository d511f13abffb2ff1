package layout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Grid:        Grid{Rows: 2, Cols: 2},
		Paper:       A4,
		Orientation: Portrait,
		MarginMM:    DefaultMarginMM,
		GapMM:       DefaultGapMM,
	}
}

func TestGridCapacity(t *testing.T) {
	require.Equal(t, 6, Grid{Rows: 2, Cols: 3}.Capacity())
	require.Equal(t, 1, Grid{Rows: 1, Cols: 1}.Capacity())
}

func TestGridValidate(t *testing.T) {
	require.NoError(t, Grid{Rows: 1, Cols: 1}.Validate())
	require.EqualError(t, Grid{Rows: 0, Cols: 2}.Validate(), `invalid rows "0": must be at least 1`)
	require.EqualError(t, Grid{Rows: 2, Cols: -1}.Validate(), `invalid cols "-1": must be at least 1`)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	t.Run("bad grid", func(t *testing.T) {
		cfg := validConfig()
		cfg.Grid.Rows = 0
		requireConfigError(t, cfg.Validate(), "rows")
	})

	t.Run("bad paper", func(t *testing.T) {
		cfg := validConfig()
		cfg.Paper = "a5"
		requireConfigError(t, cfg.Validate(), "paper_size")
	})

	t.Run("negative margin", func(t *testing.T) {
		cfg := validConfig()
		cfg.MarginMM = -1
		require.EqualError(t, cfg.Validate(), `invalid margin_mm "-1": must not be negative`)
	})

	t.Run("negative gap", func(t *testing.T) {
		cfg := validConfig()
		cfg.GapMM = -0.5
		require.EqualError(t, cfg.Validate(), `invalid gap_mm "-0.5": must not be negative`)
	})

	t.Run("margin swallows the sheet", func(t *testing.T) {
		cfg := validConfig()
		cfg.MarginMM = 120
		requireConfigError(t, cfg.Validate(), "margin_mm")
	})
}

func TestConfigDimensions(t *testing.T) {
	cfg := validConfig()
	cfg.Orientation = Landscape
	d, err := cfg.Dimensions()
	require.NoError(t, err)
	require.Equal(t, Dimensions{WidthMM: 297, HeightMM: 210}, d)
}

func requireConfigError(t *testing.T, err error, field string) {
	t.Helper()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, field, cfgErr.Field)
}
