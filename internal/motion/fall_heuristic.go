package motion

import (
	"errors"
	"fmt"

	"hazardwatch/internal/pipeline"
)

// Config tunes the fall heuristic
type Config struct {
	GridWidth     int     `yaml:"grid_width" json:"grid_width"`         // Analysis grid width
	GridHeight    int     `yaml:"grid_height" json:"grid_height"`       // Analysis grid height
	LearningRate  float32 `yaml:"learning_rate" json:"learning_rate"`   // Background update rate
	DiffThreshold float32 `yaml:"diff_threshold" json:"diff_threshold"` // Luma difference marking a foreground cell
	MinBlobArea   int     `yaml:"min_blob_area" json:"min_blob_area"`   // Smallest component considered, in cells
	FallFrames    int     `yaml:"fall_frames" json:"fall_frames"`       // Consecutive horizontal frames before flagging
}

// DefaultConfig returns the standard heuristic settings
func DefaultConfig() Config {
	return Config{
		GridWidth:     160,
		GridHeight:    120,
		LearningRate:  0.05,
		DiffThreshold: 25,
		MinBlobArea:   50,
		FallFrames:    12,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.GridWidth <= 0 {
		c.GridWidth = d.GridWidth
	}
	if c.GridHeight <= 0 {
		c.GridHeight = d.GridHeight
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		c.LearningRate = d.LearningRate
	}
	if c.DiffThreshold <= 0 {
		c.DiffThreshold = d.DiffThreshold
	}
	if c.MinBlobArea <= 0 {
		c.MinBlobArea = d.MinBlobArea
	}
	if c.FallFrames <= 0 {
		c.FallFrames = d.FallFrames
	}
	return c
}

// Observation is the heuristic state after one frame
type Observation struct {
	Candidate bool  // Counter has reached the fall threshold
	Counter   int   // Consecutive frames whose largest blob is horizontal
	Blob      *Blob // Largest foreground component, nil when none
	Seeded    bool  // Frame only initialised the background model
}

// FallHeuristic flags a possible fall when the largest moving shape stays
// wider than tall for a run of consecutive frames. It keeps a running
// average background model and is not safe for concurrent use.
type FallHeuristic struct {
	config     Config
	background []float32
	mask       []bool
	counter    int
}

var _ pipeline.Heuristic = (*FallHeuristic)(nil)

// NewFallHeuristic creates a heuristic with an empty background model
func NewFallHeuristic(config Config) *FallHeuristic {
	config = config.withDefaults()
	return &FallHeuristic{
		config: config,
		mask:   make([]bool, config.GridWidth*config.GridHeight),
	}
}

// Observe feeds one frame into the model
func (f *FallHeuristic) Observe(frame *pipeline.Frame) (Observation, error) {
	if frame == nil || frame.Image == nil {
		return Observation{Counter: f.counter}, errors.New("frame has no image")
	}
	if frame.Image.Bounds().Empty() {
		return Observation{Counter: f.counter}, fmt.Errorf("frame %d is empty", frame.Seq)
	}

	gray := sampleGray(frame.Image, f.config.GridWidth, f.config.GridHeight)
	if f.background == nil {
		f.background = gray
		f.counter = 0
		return Observation{Seeded: true}, nil
	}

	alpha := f.config.LearningRate
	for i, g := range gray {
		diff := g - f.background[i]
		if diff < 0 {
			diff = -diff
		}
		f.mask[i] = diff > f.config.DiffThreshold
		f.background[i] = f.background[i]*(1-alpha) + g*alpha
	}

	return f.step(f.mask), nil
}

// step advances the counter from a foreground mask on the analysis grid
func (f *FallHeuristic) step(mask []bool) Observation {
	blob, ok := LargestBlob(mask, f.config.GridWidth, f.config.GridHeight, f.config.MinBlobArea)
	if ok && blob.Horizontal() {
		f.counter++
	} else {
		f.counter = 0
	}

	obs := Observation{
		Candidate: f.counter >= f.config.FallFrames,
		Counter:   f.counter,
	}
	if ok {
		obs.Blob = &blob
	}
	return obs
}

// Evaluate implements pipeline.Heuristic
func (f *FallHeuristic) Evaluate(frame *pipeline.Frame) (bool, error) {
	obs, err := f.Observe(frame)
	if err != nil {
		return false, err
	}
	return obs.Candidate, nil
}

// Reset discards the background model and the counter
func (f *FallHeuristic) Reset() {
	f.background = nil
	f.counter = 0
}

// Counter returns the current run length
func (f *FallHeuristic) Counter() int {
	return f.counter
}
