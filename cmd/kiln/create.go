package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/execx"
	"github.com/jbweber/kiln/internal/output"
	"github.com/jbweber/kiln/internal/provision"
)

var createOpts struct {
	config        string
	siteConfig    string
	name          string
	fqdn          string
	xenConfigDir  string
	postSetup     string
	noInstall     bool
	noPersonalize bool
	output        string
}

var createCmd = &cobra.Command{
	Use:   "create -c <config.yaml> -n <name> -f <fqdn>",
	Short: "Create a Xen guest",
	Long: `Create a new Xen guest from a YAML configuration file.

The run first tests every step (configuration, storage, domain files) and
does nothing if any test fails. It then creates and formats the storage,
installs and personalizes Gentoo, and writes the domain configuration.

Existing storage or domain configuration is never overwritten.

Output formats:
  -o table  Human-readable summary (default)
  -o yaml   YAML document
  -o json   JSON document`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(createOpts.output); err != nil {
			return err
		}
		formatter, err := output.NewFormatter(output.Options{Format: output.Format(createOpts.output)})
		if err != nil {
			return err
		}

		log := newLogger()

		file, err := config.Load(config.LoadOptions{
			SiteConfig:     createOpts.siteConfig,
			InstanceConfig: createOpts.config,
			Log:            log,
		})
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		cfg, err := config.Resolve(file, config.Overrides{
			Name:         createOpts.name,
			FQDN:         createOpts.fqdn,
			XenConfigDir: createOpts.xenConfigDir,
			PostSetup:    createOpts.postSetup,
		}, config.ResolveOptions{
			Runner: execx.New(log),
			Log:    log,
		})
		if err != nil {
			return fmt.Errorf("failed to resolve configuration: %w", err)
		}
		log.Debugf("Resolved configuration: %s", cfg)

		// Interrupts cancel the run; cleanup still unmounts the guest.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, runErr := provision.Run(ctx, cfg, provision.Options{
			Install:     !createOpts.noInstall,
			Personalize: !createOpts.noPersonalize,
			UserAgent:   userAgent(),
		}, log)

		summary, err := formatter.FormatResult(res)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(summary)

		if runErr != nil {
			return fmt.Errorf("failed to create %s: %w", cfg.Name(), runErr)
		}
		return nil
	},
}

func init() {
	flags := createCmd.Flags()
	flags.StringVarP(&createOpts.config, "config", "c", "", "instance configuration file (required)")
	flags.StringVarP(&createOpts.name, "name", "n", "", "domain name (required)")
	flags.StringVarP(&createOpts.fqdn, "fqdn", "f", "", "guest fully qualified domain name (required)")
	flags.StringVar(&createOpts.siteConfig, "site-config", config.DefaultSiteConfig, "site configuration file")
	flags.StringVar(&createOpts.xenConfigDir, "xen-config-dir", "", "directory for the domain configuration (overrides xen.config_dir)")
	flags.StringVar(&createOpts.postSetup, "post-setup", "", "executable run after setup with the guest root as argument")
	flags.BoolVar(&createOpts.noInstall, "no-install", false, "only create storage and the domain configuration")
	flags.BoolVar(&createOpts.noPersonalize, "no-personalize", false, "install the guest OS without configuring it")
	flags.StringVarP(&createOpts.output, "output", "o", string(output.FormatTable), "output format: table, yaml or json")

	_ = createCmd.MarkFlagRequired("config")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("fqdn")
}
