package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/cybozu-go/log"
	"github.com/cybozu-go/well"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ajsharda17/lisa/pkg/types"
)

var deployParams struct {
	file       string
	image      string
	size       string
	location   string
	networking string
}

// deployCmd represents the deploy command
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "deploy a VM",
	Long: `deploy a VM from an intent file or from flags and print its
deployment descriptor as JSON`,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := deploySpec()
		if err != nil {
			return err
		}

		well.Go(func(ctx context.Context) error {
			client := azureClient()
			if err := client.VerifyAccess(ctx); err != nil {
				return err
			}

			name := "lisa-" + uuid.NewString()
			host, desc, err := client.Deploy(ctx, name, spec)
			if err != nil {
				return err
			}
			desc["name"] = name
			desc["host"] = host

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(desc)
		})
		well.Stop()
		err = well.Wait()
		if err != nil {
			log.ErrorExit(err)
		}
		return nil
	},
}

func deploySpec() (*types.DeploySpec, error) {
	if deployParams.file != "" {
		f, err := os.Open(deployParams.file)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		intent, err := types.Parse(f)
		if err != nil {
			return nil, err
		}
		if intent.Deploy == nil {
			return nil, errors.New("the intent file declares no Deployment resource")
		}
		return intent.Deploy, nil
	}

	intent := &types.IntentSpec{Deploy: &types.DeploySpec{
		Image:      deployParams.image,
		Size:       deployParams.size,
		Location:   deployParams.location,
		Networking: deployParams.networking,
	}}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	return intent.Deploy, nil
}

func init() {
	rootCmd.AddCommand(deployCmd)
	f := deployCmd.Flags()
	f.StringVarP(&deployParams.file, "file", "f", "", "intent YAML file")
	f.StringVar(&deployParams.image, "image", "", "VM image")
	f.StringVar(&deployParams.size, "size", "", "VM size")
	f.StringVar(&deployParams.location, "location", "", "deployment location")
	f.StringVar(&deployParams.networking, "networking", "", "networking mode (SRIOV)")
}
