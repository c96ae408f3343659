// Package azure manages VM deployments through the az CLI.
//
// Every deployment owns exactly one resource group named after it, so
// that teardown is a single group deletion.
package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cybozu-go/log"

	"github.com/ajsharda17/lisa/pkg/exec"
	"github.com/ajsharda17/lisa/pkg/types"
)

const (
	sharedResourceGroup = "lisa-boot-diag"
	bootStorageAccount  = "lisabootdiag"
)

// ResourceGroup returns the resource group owned by a deployment.
func ResourceGroup(name string) string {
	return name + "-rg"
}

// Client drives the az CLI through a command runner.
type Client struct {
	runner exec.Runner
}

// NewClient creates a Client.
func NewClient(r exec.Runner) *Client {
	return &Client{runner: r}
}

type accountInfo struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
	User      struct {
		Name string `json:"name"`
	} `json:"user"`
}

// VerifyAccess confirms that the az CLI is installed and the operator
// is logged in with a default subscription selected.
func (c *Client) VerifyAccess(ctx context.Context) error {
	res, err := c.runner.Run(ctx, []string{"az", "version"}, exec.Options{AllowFailure: true})
	if err != nil {
		return err
	}
	if !res.Succeeded() {
		return &SetupError{Reason: "the az CLI is not installed"}
	}

	res, err = c.runner.Run(ctx, []string{"az", "account", "show"}, exec.Options{AllowFailure: true})
	if err != nil {
		return err
	}
	if !res.Succeeded() {
		return &SetupError{Reason: "not logged in; run `az login`"}
	}

	account := &accountInfo{}
	if err := json.Unmarshal([]byte(res.Stdout), account); err != nil {
		return fmt.Errorf("failed to parse the account info: %w", err)
	}
	if !account.IsDefault {
		return &SetupError{Reason: "no default subscription; run `az account set -s <subscription>`"}
	}

	log.Info("using azure account", map[string]interface{}{
		"user":         account.User.Name,
		"subscription": account.Name,
	})
	return nil
}

// EnsureBootDiagnosticsStorage makes sure the shared resource group
// and storage account for boot logs exist, and returns the storage
// account name. Existing resources are fine.
func (c *Client) EnsureBootDiagnosticsStorage(ctx context.Context, location string) (string, error) {
	// `az group exists` always exits 0 and prints true or false.
	res, err := c.runner.Run(ctx, []string{"az", "group", "exists", "-n", sharedResourceGroup}, exec.Options{})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(res.Stdout) == "false" {
		_, err := c.runner.Run(ctx, []string{
			"az", "group", "create", "-n", sharedResourceGroup, "--location", location,
		}, exec.Options{})
		if err != nil {
			return "", fmt.Errorf("failed to create the shared resource group: %w", err)
		}
	}

	res, err = c.runner.Run(ctx, []string{
		"az", "storage", "account", "show", "-g", sharedResourceGroup, "-n", bootStorageAccount,
	}, exec.Options{AllowFailure: true})
	if err != nil {
		return "", err
	}
	if !res.Succeeded() {
		_, err := c.runner.Run(ctx, []string{
			"az", "storage", "account", "create", "-g", sharedResourceGroup, "-n", bootStorageAccount,
		}, exec.Options{})
		if err != nil {
			return "", fmt.Errorf("failed to create the boot diagnostics storage account: %w", err)
		}
	}

	return bootStorageAccount, nil
}

// Deploy creates a resource group named after the deployment and a VM
// inside it with boot diagnostics enabled. It returns the public host
// address and the full deployment descriptor from the CLI.
func (c *Client) Deploy(ctx context.Context, name string, spec *types.DeploySpec) (string, types.Descriptor, error) {
	location := spec.Location
	if location == "" {
		location = types.DefaultLocation
	}
	image := spec.Image
	if image == "" {
		image = types.DefaultImage
	}
	size := spec.Size
	if size == "" {
		size = types.DefaultSize
	}

	bootStorage, err := c.EnsureBootDiagnosticsStorage(ctx, location)
	if err != nil {
		return "", nil, &ProvisionError{Name: name, Err: err}
	}

	rg := ResourceGroup(name)
	log.Info("deploying VM", map[string]interface{}{
		"group":    rg,
		"location": location,
		"image":    image,
		"size":     size,
	})

	_, err = c.runner.Run(ctx, []string{
		"az", "group", "create", "-n", rg, "--location", location,
	}, exec.Options{})
	if err != nil {
		return "", nil, &ProvisionError{Name: name, Err: err}
	}

	vmArgs := []string{
		"az", "vm", "create",
		"-g", rg,
		"-n", name,
		"--image", image,
		"--size", size,
		"--boot-diagnostics-storage", bootStorage,
		"--generate-ssh-keys",
	}
	if spec.Networking == types.NetworkingSRIOV {
		vmArgs = append(vmArgs, "--accelerated-networking", "true")
	}

	res, err := c.runner.Run(ctx, vmArgs, exec.Options{})
	if err != nil {
		return "", nil, &ProvisionError{Name: name, Err: err}
	}

	desc, err := parseDescriptor(res.Stdout)
	if err != nil {
		return "", nil, &ProvisionError{Name: name, Err: err}
	}
	host, ok := desc["publicIpAddress"]
	if !ok || host == "" {
		return "", nil, &ProvisionError{Name: name, Err: fmt.Errorf("no public IP address in the deployment data")}
	}
	return host, desc, nil
}

// Destroy deletes the deployment's entire resource group without
// prompting. Failures, including a group that no longer exists, are
// reported as a TeardownError for the caller to log.
func (c *Client) Destroy(ctx context.Context, name string) error {
	rg := ResourceGroup(name)
	log.Info("deleting resource group", map[string]interface{}{
		"group": rg,
	})

	res, err := c.runner.Run(ctx, []string{
		"az", "group", "delete", "-n", rg, "--yes",
	}, exec.Options{AllowFailure: true})
	if err != nil {
		return &TeardownError{Name: name, Err: err}
	}
	if !res.Succeeded() {
		return &TeardownError{Name: name, Err: fmt.Errorf("az group delete exited with status %d: %s",
			res.ExitCode, strings.TrimSpace(res.Stderr))}
	}
	return nil
}

// GetBootLog fetches the VM's serial console log once. Callers retry;
// the log is not available right after deployment.
func (c *Client) GetBootLog(ctx context.Context, name string) (*exec.Result, error) {
	return c.runner.Run(ctx, []string{
		"az", "vm", "boot-diagnostics", "get-boot-log", "-n", name, "-g", ResourceGroup(name),
	}, exec.Options{})
}

// Restart issues a platform-level VM restart.
func (c *Client) Restart(ctx context.Context, name string) (*exec.Result, error) {
	return c.runner.Run(ctx, []string{
		"az", "vm", "restart", "-n", name, "-g", ResourceGroup(name),
	}, exec.Options{})
}

// parseDescriptor flattens the CLI's JSON response into a string map.
// Nested objects are dropped; only scalar fields are kept.
func parseDescriptor(out string) (types.Descriptor, error) {
	raw := map[string]interface{}{}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse the deployment data: %w", err)
	}

	desc := types.Descriptor{}
	for k, v := range raw {
		switch value := v.(type) {
		case string:
			desc[k] = value
		case bool:
			desc[k] = strconv.FormatBool(value)
		case float64:
			desc[k] = strconv.FormatFloat(value, 'f', -1, 64)
		}
	}
	return desc, nil
}
