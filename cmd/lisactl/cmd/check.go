package cmd

import (
	"context"
	"fmt"

	"github.com/cybozu-go/log"
	"github.com/cybozu-go/well"
	"github.com/spf13/cobra"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "verify az CLI access",
	Long: `verify that the az CLI is installed and the operator is logged in
with a default subscription selected`,
	Run: func(cmd *cobra.Command, args []string) {
		well.Go(func(ctx context.Context) error {
			return azureClient().VerifyAccess(ctx)
		})
		well.Stop()
		err := well.Wait()
		if err != nil {
			log.ErrorExit(err)
		}
		fmt.Println("access ok")
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
