package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/geometry"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`

	Sync      Sync            `yaml:"sync" json:"sync"`
	Broadcast Broadcast       `yaml:"broadcast" json:"broadcast"`
	Geometry  geometry.Config `yaml:"geometry" json:"geometry"`
	Render    Render          `yaml:"render" json:"render"`
}

type Sync struct {
	IntervalTicks          int     `yaml:"interval_ticks" json:"interval_ticks"`
	AngleThreshold         float32 `yaml:"angle_threshold" json:"angle_threshold"`
	SpeedThreshold         float32 `yaml:"speed_threshold" json:"speed_threshold"`
	MinCorrectionAgeTicks  int64   `yaml:"min_correction_age_ticks" json:"min_correction_age_ticks"`
	DisconnectLogThreshold float32 `yaml:"disconnect_log_threshold" json:"disconnect_log_threshold"`
}

type Broadcast struct {
	BaseIntervalTicks  int64   `yaml:"base_interval_ticks" json:"base_interval_ticks"`
	StrideChunks       int     `yaml:"stride_chunks" json:"stride_chunks"`
	MaxRenderDistance  float32 `yaml:"max_render_distance" json:"max_render_distance"`
	ViewDistanceChunks int     `yaml:"view_distance_chunks" json:"view_distance_chunks"`
}

type Render struct {
	UpdateThreshold   float32 `yaml:"update_threshold" json:"update_threshold"`
	MaxRenderDistance float32 `yaml:"max_render_distance" json:"max_render_distance"`
	ClipPadding       float32 `yaml:"clip_padding" json:"clip_padding"`
	ClipOffset        float32 `yaml:"clip_offset" json:"clip_offset"`
	AngleOffset       float32 `yaml:"angle_offset" json:"angle_offset"`
	Color             string  `yaml:"color" json:"color"`
	Material          string  `yaml:"material" json:"material"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         20,
		SnapshotEveryTicks: 6000,
		Sync: Sync{
			IntervalTicks:          20,
			AngleThreshold:         0.5,
			SpeedThreshold:         0.01,
			MinCorrectionAgeTicks:  200,
			DisconnectLogThreshold: 5.0,
		},
		Broadcast: Broadcast{
			BaseIntervalTicks:  20,
			StrideChunks:       8,
			MaxRenderDistance:  2048,
			ViewDistanceChunks: 12,
		},
		Geometry: geometry.DefaultConfig(),
		Render: Render{
			UpdateThreshold:   0.25,
			MaxRenderDistance: 2048,
			ClipPadding:       16,
			ClipOffset:        16,
			Color:             "#95815f",
			Material:          "wood",
		},
	}
}

// Load reads a YAML file on top of Defaults, so a file only needs the keys
// it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

var errInvalid = errors.New("invalid tuning")

func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz <= 0:
		return fmt.Errorf("%w: tick_rate_hz must be > 0", errInvalid)
	case t.Sync.IntervalTicks <= 0:
		return fmt.Errorf("%w: sync.interval_ticks must be > 0", errInvalid)
	case t.Sync.AngleThreshold < 0 || t.Sync.SpeedThreshold < 0:
		return fmt.Errorf("%w: sync thresholds must be >= 0", errInvalid)
	case t.Sync.MinCorrectionAgeTicks < 0:
		return fmt.Errorf("%w: sync.min_correction_age_ticks must be >= 0", errInvalid)
	case t.Broadcast.StrideChunks <= 0:
		return fmt.Errorf("%w: broadcast.stride_chunks must be > 0", errInvalid)
	case t.Broadcast.MaxRenderDistance <= 0 || t.Render.MaxRenderDistance <= 0:
		return fmt.Errorf("%w: max_render_distance must be > 0", errInvalid)
	case t.Broadcast.ViewDistanceChunks < 0:
		return fmt.Errorf("%w: broadcast.view_distance_chunks must be >= 0", errInvalid)
	case t.Geometry.MinSegments <= 0 || t.Geometry.MaxSegments < t.Geometry.MinSegments:
		return fmt.Errorf("%w: geometry segment bounds %d..%d", errInvalid, t.Geometry.MinSegments, t.Geometry.MaxSegments)
	case t.Geometry.MaxThicknessScale < 1:
		return fmt.Errorf("%w: geometry.max_thickness_scale must be >= 1", errInvalid)
	case t.Render.UpdateThreshold < 0:
		return fmt.Errorf("%w: render.update_threshold must be >= 0", errInvalid)
	}
	return nil
}
