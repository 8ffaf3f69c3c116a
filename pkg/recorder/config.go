package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cyclopcam/framerec/pkg/mux"
)

// Timeout for every poll of the encoder's input and output queues
const PollTimeout = 10 * time.Millisecond

var ErrInvalidConfig = errors.New("Invalid recorder config")

type Config struct {
	Filename         string  `json:"filename"`         // Output file
	FPS              float64 `json:"fps"`              // Frame rate
	Rows             int     `json:"rows"`             // Frame height
	Cols             int     `json:"cols"`             // Frame width
	BitRate          int     `json:"bitRate"`          // Target bit rate, in bits per second
	KeyFrameInterval int     `json:"keyFrameInterval"` // Key frame interval, in frames
	Format           string  `json:"format"`           // "mp4" or "ts"
	DrainTimeoutMS   int     `json:"drainTimeoutMS"`   // How long End waits for the encoder to flush
	InputTimeoutMS   int     `json:"inputTimeoutMS"`   // How long End waits for an input slot to send end-of-stream
}

func DefaultConfig() Config {
	return Config{
		FPS:              30,
		Rows:             720,
		Cols:             1280,
		BitRate:          500000,
		KeyFrameInterval: 5,
		Format:           "mp4",
		DrainTimeoutMS:   5000,
		InputTimeoutMS:   1000,
	}
}

// Load a JSON config file. Fields that are missing from the file keep their default values.
func LoadConfig(filename string) (*Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Filename == "" {
		return fmt.Errorf("%w: filename is empty", ErrInvalidConfig)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("%w: fps must be positive (%v)", ErrInvalidConfig, c.FPS)
	}
	if c.Rows <= 0 || c.Cols <= 0 {
		return fmt.Errorf("%w: frame size %v x %v", ErrInvalidConfig, c.Cols, c.Rows)
	}
	if c.Rows%2 != 0 || c.Cols%2 != 0 {
		return fmt.Errorf("%w: frame size %v x %v must be even", ErrInvalidConfig, c.Cols, c.Rows)
	}
	if c.BitRate <= 0 {
		return fmt.Errorf("%w: bit rate must be positive (%v)", ErrInvalidConfig, c.BitRate)
	}
	if c.KeyFrameInterval <= 0 {
		return fmt.Errorf("%w: key frame interval must be positive (%v)", ErrInvalidConfig, c.KeyFrameInterval)
	}
	if _, err := mux.ParseOutputFormat(c.Format); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) OutputFormat() mux.OutputFormat {
	f, _ := mux.ParseOutputFormat(c.Format)
	return f
}

func (c *Config) DrainTimeout() time.Duration {
	if c.DrainTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.DrainTimeoutMS) * time.Millisecond
}

func (c *Config) InputTimeout() time.Duration {
	if c.InputTimeoutMS <= 0 {
		return time.Second
	}
	return time.Duration(c.InputTimeoutMS) * time.Millisecond
}
