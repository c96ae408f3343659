package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/cybozu-go/log"
	"github.com/cybozu-go/well"
	"github.com/spf13/cobra"

	"github.com/ajsharda17/lisa/pkg/node"
)

// bootlogCmd represents the bootlog command
var bootlogCmd = &cobra.Command{
	Use:   "bootlog NAME",
	Short: "fetch VM boot diagnostics",
	Long: `fetch the serial console log of the named deployment

The log is not available right after deployment, so the fetch is
retried with backoff for up to a minute.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("deployment name not specified")
		} else if len(args) > 1 {
			return errors.New("too many arguments")
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		well.Go(func(ctx context.Context) error {
			n := node.New(name, "", nil, node.Options{})
			defer n.Close()

			res, err := n.BootDiagnostics(ctx)
			if err != nil {
				return err
			}
			fmt.Print(res.Stdout)
			return nil
		})
		well.Stop()
		err := well.Wait()
		if err != nil {
			log.ErrorExit(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(bootlogCmd)
}
