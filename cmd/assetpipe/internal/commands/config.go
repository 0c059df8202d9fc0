package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type ConfigCmd struct {
	ConfigFlags `embed:""`

	out io.Writer `kong:"-"`
}

func (c *ConfigCmd) Run(_ context.Context, _ *Globals) error {
	cfg, err := c.Load()
	if err != nil {
		return err
	}

	out := c.out
	if out == nil {
		out = os.Stdout
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
