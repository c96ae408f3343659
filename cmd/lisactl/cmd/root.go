package cmd

import (
	"fmt"
	"os"

	"github.com/cybozu-go/well"
	"github.com/spf13/cobra"

	"github.com/ajsharda17/lisa/pkg/azure"
	"github.com/ajsharda17/lisa/pkg/exec"
	"github.com/ajsharda17/lisa/pkg/fixture"
	"github.com/ajsharda17/lisa/pkg/util"
)

var config struct {
	cacheDir string
	keepVMs  bool
	sshUser  string
	sshKey   string
}

var rootCmd = &cobra.Command{
	Use:   "lisactl",
	Short: "Azure VM node fixture controller",
	Long: `Lisactl manages the Azure VMs behind the node test fixture.

It verifies az CLI access, deploys and destroys VM deployments, and
fetches boot diagnostics, using the same code paths as the fixture.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return well.LogConfig{}.Apply()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	defaults := fixture.DefaultConfig()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&config.cacheDir, "cache-dir", defaults.CacheDir, "directory for cached deployment descriptors")
	pf.BoolVar(&config.keepVMs, "keep-vms", defaults.KeepVMs, "retain provisioned VMs")
	pf.StringVar(&config.sshUser, "ssh-user", defaults.SSHUser, "SSH login user")
	pf.StringVar(&config.sshKey, "ssh-key", defaults.SSHKeyFile, "SSH private key file")
}

func azureClient() *azure.Client {
	// az output goes to stderr so that the command results stay
	// machine-readable on stdout
	runner := exec.NewStreamingRunner(
		util.NewColoredLogWriter("az", "out", os.Stderr),
		util.NewColoredLogWriter("az", "err", os.Stderr),
	)
	return azure.NewClient(runner)
}
