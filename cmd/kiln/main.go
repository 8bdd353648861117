package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Flags shared by every command.
var (
	verbose int
	noColor bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Kiln - Xen Gentoo guest provisioner",
	Long: `Kiln creates Xen guests (domUs) running Gentoo.

It allocates the guest's storage, unpacks the latest stage3 and package tree
from a mirror, personalizes the new root, runs the setup script in a chroot
and writes the xl domain configuration.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase log verbosity (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(testConnCmd)
	rootCmd.AddCommand(cacheCmd)
}

// newLogger builds the logger from the shared flags.
func newLogger() *logrus.Logger {
	return logging.New(logging.Options{Verbose: verbose, NoColor: noColor})
}

// userAgent identifies kiln to mirrors.
func userAgent() string {
	return "kiln/" + version
}
