/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-loadguard/config"
)

func TestEngineDecide(t *testing.T) {
	engine := MustNewEngine(NewDefaultConfig())

	t.Run("below soft limit", func(t *testing.T) {
		for _, usage := range []float64{0, 30, 59.9} {
			out := engine.Decide(usage)
			require.Equal(t, ActionAllow, out.Action)
			require.Equal(t, time.Duration(0), out.Delay)
		}
	})

	t.Run("at and above hard limit", func(t *testing.T) {
		for _, usage := range []float64{90, 95, 100} {
			out := engine.Decide(usage)
			require.Equal(t, ActionReject, out.Action)
		}
	})

	t.Run("inside the band", func(t *testing.T) {
		out := engine.Decide(75) // exactly mid-band
		require.Equal(t, ActionDelay, out.Action)
		wantDelay := DefaultMinDelay + (DefaultMaxDelay-DefaultMinDelay)/2
		require.Equal(t, wantDelay, out.Delay)
	})

	t.Run("soft limit boundary starts delaying", func(t *testing.T) {
		out := engine.Decide(60)
		require.Equal(t, ActionDelay, out.Action)
		require.Equal(t, DefaultMinDelay, out.Delay)
	})

	t.Run("delay grows monotonically with usage", func(t *testing.T) {
		prevDelay := time.Duration(-1)
		for usage := 60.0; usage < 90; usage += 0.5 {
			out := engine.Decide(usage)
			require.Equal(t, ActionDelay, out.Action, "usage %v", usage)
			require.GreaterOrEqual(t, out.Delay, prevDelay, "usage %v", usage)
			require.GreaterOrEqual(t, out.Delay, DefaultMinDelay)
			require.LessOrEqual(t, out.Delay, DefaultMaxDelay)
			prevDelay = out.Delay
		}
	})
}

func TestEngineDecideExponentialCurve(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Curve = CurveExponential
	expEngine := MustNewEngine(cfg)
	linEngine := MustNewEngine(NewDefaultConfig())

	// The exponential curve stays below the linear one everywhere inside the band
	// and they meet at its edges.
	require.Equal(t, linEngine.Decide(60).Delay, expEngine.Decide(60).Delay)
	for usage := 61.0; usage < 90; usage++ {
		require.Less(t, expEngine.Decide(usage).Delay, linEngine.Decide(usage).Delay, "usage %v", usage)
	}

	out := expEngine.Decide(75) // position 0.5 squared is 0.25
	wantDelay := DefaultMinDelay + (DefaultMaxDelay-DefaultMinDelay)/4
	require.Equal(t, wantDelay, out.Delay)
}

func TestEngineDecideBlended(t *testing.T) {
	t.Run("memory pushes blend over the limits", func(t *testing.T) {
		engine := MustNewEngine(NewDefaultConfig()) // weight 0.3

		// 50*0.7 + 80*0.3 = 59, just below the soft limit.
		require.Equal(t, ActionAllow, engine.DecideBlended(50, 80).Action)
		// 50*0.7 + 90*0.3 = 62.
		require.Equal(t, ActionDelay, engine.DecideBlended(50, 90).Action)
		// 90*0.7 + 100*0.3 = 93.
		require.Equal(t, ActionReject, engine.DecideBlended(90, 100).Action)
	})

	t.Run("zero weight means cpu-only decisions", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.MemoryWeight = 0
		engine := MustNewEngine(cfg)
		require.Equal(t, ActionAllow, engine.DecideBlended(10, 100).Action)
		require.Equal(t, ActionReject, engine.DecideBlended(95, 0).Action)
	})
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "hard limit not greater than soft limit",
			modify:  func(cfg *Config) { cfg.HardLimit = cfg.SoftLimit },
			wantErr: "hard limit should be greater than soft limit",
		},
		{
			name:    "inverted delays",
			modify:  func(cfg *Config) { cfg.MinDelay = config.TimeDuration(10 * time.Second) },
			wantErr: "max delay should be >= min delay",
		},
		{
			name:    "negative min delay",
			modify:  func(cfg *Config) { cfg.MinDelay = config.TimeDuration(-time.Second) },
			wantErr: "min delay should be >= 0",
		},
		{
			name:    "unknown curve",
			modify:  func(cfg *Config) { cfg.Curve = "quadratic" },
			wantErr: "unknown delay curve",
		},
		{
			name:    "memory weight out of range",
			modify:  func(cfg *Config) { cfg.MemoryWeight = 1.5 },
			wantErr: "memory weight should be in range [0, 1]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.modify(cfg)
			_, err := NewEngine(cfg)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestActionString(t *testing.T) {
	require.Equal(t, "allow", ActionAllow.String())
	require.Equal(t, "delay", ActionDelay.String())
	require.Equal(t, "reject", ActionReject.String())
}
