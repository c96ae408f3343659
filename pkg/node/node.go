// Package node exposes a provisioned or pre-existing host as a
// connected session for running commands and fetching files.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cybozu-go/log"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/ajsharda17/lisa/pkg/azure"
	"github.com/ajsharda17/lisa/pkg/exec"
	"github.com/ajsharda17/lisa/pkg/types"
	"github.com/ajsharda17/lisa/pkg/util"
)

// DefaultRemotePath is injected into remote commands because
// non-login, non-interactive shells come up without a populated PATH.
const DefaultRemotePath = "/sbin:/usr/sbin:/usr/local/sbin:/bin:/usr/bin:/usr/local/bin"

// bootLogRetry bounds the boot-diagnostics fetch: the serial log is
// not available right after deployment.
var bootLogRetry = util.RetryPolicy{
	Budget:  60 * time.Second,
	Initial: time.Second,
	Max:     10 * time.Second,
}

// ErrNotConnected is returned for operations before Open.
var ErrNotConnected = errors.New("node is not connected")

// ErrClosed is returned for operations after Close.
var ErrClosed = errors.New("node is closed")

// Options configure a Node connection.
type Options struct {
	// User is the SSH login user. Defaults to the current $USER.
	User string
	// KeyFile is the SSH private key path. Defaults to ~/.ssh/id_rsa,
	// the key `az vm create --generate-ssh-keys` writes.
	KeyFile string
	// Timeout bounds every command. Defaults to exec.DefaultTimeout.
	Timeout time.Duration
	// Env is the default environment injected into remote commands.
	// Defaults to a PATH override only. Local commands never see it.
	Env map[string]string
	// Runner runs local commands. Defaults to an exec.LocalRunner.
	Runner exec.Runner
}

// Node wraps one live connection to a host. It is connected with Open,
// owned by a single test invocation, and invalid after Close.
type Node struct {
	name string
	host string
	desc types.Descriptor

	user      string
	keyFile   string
	timeout   time.Duration
	remoteEnv map[string]string

	local exec.Runner
	az    *azure.Client

	agent  *sshAgent
	sftpc  *sftp.Client
	closed bool
}

// New creates an unconnected Node for host. desc may be nil for hosts
// not provisioned by this module.
func New(name, host string, desc types.Descriptor, opts Options) *Node {
	if desc == nil {
		desc = types.Descriptor{}
	}
	if opts.User == "" {
		opts.User = os.Getenv("USER")
	}
	if opts.KeyFile == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			opts.KeyFile = filepath.Join(home, ".ssh", "id_rsa")
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = exec.DefaultTimeout
	}
	if opts.Env == nil {
		opts.Env = map[string]string{"PATH": DefaultRemotePath}
	}
	if opts.Runner == nil {
		opts.Runner = exec.NewLocalRunner()
	}
	return &Node{
		name:      name,
		host:      host,
		desc:      desc,
		user:      opts.User,
		keyFile:   opts.KeyFile,
		timeout:   opts.Timeout,
		remoteEnv: opts.Env,
		local:     opts.Runner,
		az:        azure.NewClient(opts.Runner),
	}
}

// Name returns the node's display name: the deployment name,
// "pre-deployed:<host>", or "localhost".
func (n *Node) Name() string {
	return n.name
}

// Host returns the address the node is connected to.
func (n *Node) Host() string {
	return n.host
}

// Descriptor returns the deployment descriptor. It is empty for hosts
// this module did not provision.
func (n *Node) Descriptor() types.Descriptor {
	return n.desc
}

// Open establishes the SSH connection.
func (n *Node) Open(ctx context.Context) error {
	if n.closed {
		return ErrClosed
	}
	if n.agent != nil {
		return nil
	}

	sshKey, err := parsePrivateKey(n.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load the SSH key %s: %w", n.keyFile, err)
	}

	log.Info("connecting to node", map[string]interface{}{
		"name": n.name,
		"host": n.host,
		"user": n.user,
	})

	agent, err := sshTo(n.host, sshKey, n.user)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", n.host, err)
	}
	n.agent = agent
	return nil
}

func (n *Node) connected() error {
	if n.closed {
		return ErrClosed
	}
	if n.agent == nil {
		return ErrNotConnected
	}
	return nil
}

// RunRemote runs command on the connected host. The node's default
// environment is injected inline because the remote shell is neither
// a login shell nor interactive.
func (n *Node) RunRemote(ctx context.Context, command string, opts exec.Options) (*exec.Result, error) {
	if err := n.connected(); err != nil {
		return nil, err
	}

	full := inlineEnv(n.remoteEnv, opts.Env) + command
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = n.timeout
	}

	log.Info("running command", map[string]interface{}{
		"host":    n.host,
		"command": full,
	})

	stdout, stderr, err := n.agent.run(ctx, full, timeout)
	result := &exec.Result{
		Stdout: string(stdout),
		Stderr: string(stderr),
	}
	if err != nil {
		var ee *ssh.ExitError
		if errors.As(err, &ee) {
			result.ExitCode = ee.ExitStatus()
		} else {
			return nil, fmt.Errorf("failed to run %q on %s: %w", command, n.host, err)
		}
	}

	if !result.Succeeded() && !opts.AllowFailure {
		return nil, &exec.ExecutionError{Command: command, Result: result}
	}
	return result, nil
}

// RunLocal runs a command on the machine hosting the test process.
// The node's remote environment overrides do not apply.
func (n *Node) RunLocal(ctx context.Context, args []string, opts exec.Options) (*exec.Result, error) {
	if n.closed {
		return nil, ErrClosed
	}
	return n.local.Run(ctx, args, opts)
}

// FetchText reads a remote file fully into memory and returns it as
// text with surrounding whitespace trimmed. No temporary file is left
// on either side.
func (n *Node) FetchText(ctx context.Context, path string) (string, error) {
	if err := n.connected(); err != nil {
		return "", err
	}

	if n.sftpc == nil {
		c, err := sftp.NewClient(n.agent.client)
		if err != nil {
			return "", fmt.Errorf("failed to open an sftp session to %s: %w", n.host, err)
		}
		n.sftpc = c
	}

	f, err := n.sftpc.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open the remote file %s: %w", path, err)
	}
	defer f.Close()

	var sb strings.Builder
	if _, err := f.WriteTo(&sb); err != nil {
		return "", fmt.Errorf("failed to read the remote file %s: %w", path, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// BootDiagnostics retrieves the VM's serial console log. The fetch is
// retried with capped exponential backoff because the log appears only
// some time after boot; the last failure is surfaced once the time
// budget runs out.
func (n *Node) BootDiagnostics(ctx context.Context) (*exec.Result, error) {
	if n.closed {
		return nil, ErrClosed
	}

	var result *exec.Result
	err := util.Retry(ctx, bootLogRetry, func(ctx context.Context) error {
		res, err := n.az.GetBootLog(ctx, n.name)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get boot diagnostics for %s: %w", n.name, err)
	}
	return result, nil
}

// Restart issues a platform-level restart of the VM, not a redeploy.
func (n *Node) Restart(ctx context.Context) (*exec.Result, error) {
	if n.closed {
		return nil, ErrClosed
	}
	return n.az.Restart(ctx, n.name)
}

// Close releases the connection. The node is unusable afterwards.
func (n *Node) Close() error {
	if n.closed {
		return nil
	}
	n.closed = true

	var err error
	if n.sftpc != nil {
		err = n.sftpc.Close()
		n.sftpc = nil
	}
	if n.agent != nil {
		if cerr := n.agent.close(); err == nil {
			err = cerr
		}
		n.agent = nil
	}
	return err
}

// inlineEnv renders environment assignments to prefix a remote
// command. opts overrides the node defaults; the pairs are sorted for
// a stable command line.
func inlineEnv(base, override map[string]string) string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	if len(merged) == 0 {
		return ""
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(merged[k])
		sb.WriteByte(' ')
	}
	return sb.String()
}
