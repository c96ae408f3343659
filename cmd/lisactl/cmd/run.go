package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cybozu-go/log"
	"github.com/cybozu-go/well"
	"github.com/spf13/cobra"

	"github.com/ajsharda17/lisa/pkg/exec"
	"github.com/ajsharda17/lisa/pkg/fixture"
	"github.com/ajsharda17/lisa/pkg/types"
)

var runParams struct {
	file string
	host string
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [-f FILE|--host HOST] -- COMMAND...",
	Short: "run a command on a node",
	Long: `run a command on the node selected by the intent

With -f the node is provisioned (or reused from the cache) from the
intent file. With --host an existing host is used. With neither, the
command runs on localhost over SSH. Combine with --keep-vms to reuse
the provisioned VM across invocations.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("command not specified")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		intent, err := runIntent()
		if err != nil {
			return err
		}

		well.Go(func(ctx context.Context) error {
			m, err := fixture.NewManager(fixture.Config{
				CacheDir:   config.cacheDir,
				KeepVMs:    config.keepVMs,
				SSHUser:    config.sshUser,
				SSHKeyFile: config.sshKey,
				Timeout:    exec.DefaultTimeout,
			})
			if err != nil {
				return err
			}

			n, release, err := m.Acquire(ctx, intent)
			if err != nil {
				return err
			}
			defer release()

			res, err := n.RunRemote(ctx, strings.Join(args, " "), exec.Options{})
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stderr, res.Stderr)
			fmt.Print(res.Stdout)
			return nil
		})
		well.Stop()
		err = well.Wait()
		if err != nil {
			log.ErrorExit(err)
		}
		return nil
	},
}

func runIntent() (*types.IntentSpec, error) {
	if runParams.file != "" && runParams.host != "" {
		return nil, errors.New("-f and --host are mutually exclusive")
	}
	if runParams.file != "" {
		f, err := os.Open(runParams.file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return types.Parse(f)
	}
	if runParams.host != "" {
		return &types.IntentSpec{Connect: &types.ConnectSpec{Host: runParams.host}}, nil
	}
	return &types.IntentSpec{}, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.StringVarP(&runParams.file, "file", "f", "", "intent YAML file")
	f.StringVar(&runParams.host, "host", "", "existing host to connect to")
}
