// Command invision-mirror runs one mirroring pass against InVision and
// prints the resulting successful/ignored/failed project counts. It is
// the minimal contract-level invocation binary: the interactive CLI
// wrapper and HTTP serving layer that consume this engine live outside
// this repository's scope.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/divyekant/invision-mirror/internal/config"
	"github.com/divyekant/invision-mirror/internal/mirror"
)

func main() {
	root := &cobra.Command{
		Use:   "invision-mirror [overwrite|update]",
		Short: "Mirror an InVision organization's projects and screens to DOCS_ROOT",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runMirror,
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMirror(cmd *cobra.Command, args []string) error {
	option := ""
	if len(args) == 1 {
		option = args[0]
	}

	cfg := config.Load()
	if cfg.Email == "" || cfg.Password == "" {
		return fmt.Errorf("INVISION_EMAIL and INVISION_PASSWORD must be set")
	}

	result, err := mirror.Run(context.Background(), cfg, option)
	if err != nil {
		return err
	}

	fmt.Printf("successful: %d\n", len(result.Successful))
	fmt.Printf("ignored:    %d\n", len(result.Ignored))
	fmt.Printf("failed:     %d\n", len(result.Failed))

	if len(result.Failed) > 0 {
		return fmt.Errorf("%d project(s) failed", len(result.Failed))
	}
	return nil
}
