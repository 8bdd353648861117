package storage

import (
	"context"
	"fmt"

	"github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/execx"
)

// FormatCommand returns the command that formats device with filesystem.
// Swap uses mkswap and ignores options; everything else is
// mkfs.{fs} [options...] {device}.
func FormatCommand(device, filesystem, options string) (string, []string, error) {
	if filesystem == SwapFilesystem {
		return "mkswap", []string{device}, nil
	}

	args, err := shellwords.Parse(options)
	if err != nil {
		return "", nil, fmt.Errorf("invalid format options %q: %w", options, err)
	}

	return "mkfs." + filesystem, append(args, device), nil
}

func formatDevice(ctx context.Context, runner execx.Runner, log logrus.FieldLogger, device, filesystem, options string) error {
	name, args, err := FormatCommand(device, filesystem, options)
	if err != nil {
		return err
	}

	log.Infof("Formatting %s using %s", device, name)
	if options != "" && filesystem != SwapFilesystem {
		log.Debugf("Formatting with opts: %s", options)
	}

	if _, err := runner.Run(ctx, name, args...); err != nil {
		return fmt.Errorf("failed to format %s: %w", device, err)
	}
	return nil
}
