package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// completionCmd represents the completion command
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generates shell completion scripts",
	Long: `To load completion run

Bash:

$ source <(lisactl completion bash)

# To load completions for each session, execute once:
Linux:
  $ lisactl completion bash > /etc/bash_completion.d/lisactl
MacOS:
  $ lisactl completion bash > /usr/local/etc/bash_completion.d/lisactl

Zsh:

# If shell completion is not already enabled in your environment you will need
# to enable it.  You can execute the following once:

$ echo "autoload -U compinit; compinit" >> ~/.zshrc

# To load completions for each session, execute once:
$ lisactl completion zsh > "${fpath[1]}/_lisactl"

# You will need to start a new shell for this setup to take effect.

Fish:

$ lisactl completion fish | source

# To load completions for each session, execute once:
$ lisactl completion fish > ~/.config/fish/completions/lisactl.fish
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run: func(cmd *cobra.Command, args []string) {
		switch args[0] {
		case "bash":
			cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			cmd.Root().GenPowerShellCompletion(os.Stdout)
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
