package output

import (
	"fmt"

	"github.com/beamrec/beamrec/compat"
	"github.com/beamrec/beamrec/event"
	"github.com/beamrec/beamrec/store"
)

// Config controls where and how a run is written.
type Config struct {
	// FileName is the path of the first output file, e.g. "run.bdr".
	FileName string `yaml:"file_name"`
	// Overwrite replaces existing files instead of picking a free name.
	Overwrite  bool        `yaml:"overwrite"`
	Codec      store.Codec `yaml:"codec"`
	BasketSize int         `yaml:"basket_size"`
	// MaxEventsPerFile rolls over to a new file after that many events. 0
	// writes a single file.
	MaxEventsPerFile int64 `yaml:"max_events_per_file"`
	// DataVersion selects the branch layout. 0 means compat.Current.
	DataVersion compat.DataVersion `yaml:"data_version"`

	Store event.Config `yaml:"store"`
}

// DefaultConfig returns the configuration used when nothing is given.
func DefaultConfig() Config {
	return Config{
		FileName: "output.bdr",
		Codec:    store.CodecZstd,
		Store:    event.DefaultConfig(),
	}
}

// Version returns the effective data version.
func (c *Config) Version() compat.DataVersion {
	if c.DataVersion == 0 {
		return compat.Current
	}
	return c.DataVersion
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.FileName == "" {
		return fmt.Errorf("output file name is empty")
	}
	if c.BasketSize < 0 {
		return fmt.Errorf("basket size must be >= 0, got %d", c.BasketSize)
	}
	if c.MaxEventsPerFile < 0 {
		return fmt.Errorf("max events per file must be >= 0, got %d", c.MaxEventsPerFile)
	}
	if c.DataVersion != 0 {
		if _, err := compat.Parse(int32(c.DataVersion)); err != nil {
			return err
		}
	}
	if c.Codec > store.CodecZstd {
		return fmt.Errorf("unknown codec %v", c.Codec)
	}
	return c.Store.Validate()
}
