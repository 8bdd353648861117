package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/libvirt"
)

var testConnSocket string

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connection",
	Long: `Test connectivity to the libvirt daemon and display version information.

Only needed when libvirt.define is enabled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		log.Infof("Connecting to libvirt at %s", testConnSocket)

		client, err := libvirt.Connect(testConnSocket, 0)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Warnf("Failed to close libvirt connection: %v", err)
			}
		}()

		if err := client.Ping(); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		libVersion, err := client.Version()
		if err != nil {
			return err
		}
		fmt.Printf("Libvirt version: %s\n", libVersion)

		hostname, err := client.Libvirt().ConnectGetHostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		fmt.Printf("Hypervisor hostname: %s\n", hostname)

		uri, err := client.Libvirt().ConnectGetUri()
		if err != nil {
			return fmt.Errorf("failed to get connection URI: %w", err)
		}
		fmt.Printf("Connection URI: %s\n", uri)

		return nil
	},
}

func init() {
	testConnCmd.Flags().StringVar(&testConnSocket, "socket", libvirt.DefaultSocket, "libvirtd socket path")
}
