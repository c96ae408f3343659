// Package fixture decides, per declared intent, whether to provision a
// VM, reuse a cached one, or just connect to a host, and guarantees
// cleanup when the test is done.
package fixture

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cybozu-go/log"
	"github.com/google/uuid"

	"github.com/ajsharda17/lisa/pkg/azure"
	"github.com/ajsharda17/lisa/pkg/exec"
	"github.com/ajsharda17/lisa/pkg/node"
	"github.com/ajsharda17/lisa/pkg/types"
	"github.com/ajsharda17/lisa/pkg/util"
)

// Provisioner creates and deletes VM deployments. *azure.Client is the
// production implementation.
type Provisioner interface {
	VerifyAccess(ctx context.Context) error
	Deploy(ctx context.Context, name string, spec *types.DeploySpec) (string, types.Descriptor, error)
	Destroy(ctx context.Context, name string) error
}

// Config holds the run-scoped settings shared by every fixture in a
// test run.
type Config struct {
	// CacheDir persists deployment descriptors across runs.
	CacheDir string
	// KeepVMs retains provisioned VMs and their cache entries after
	// the tests finish.
	KeepVMs bool
	// SSHUser and SSHKeyFile configure the node connections.
	SSHUser    string
	SSHKeyFile string
	// Timeout bounds every command run through a node.
	Timeout time.Duration
}

// DefaultConfig builds a Config from the environment.
func DefaultConfig() Config {
	cacheDir := os.Getenv("LISA_CACHE_DIR")
	if cacheDir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			cacheDir = filepath.Join(dir, "lisa")
		}
	}
	return Config{
		CacheDir:   cacheDir,
		KeepVMs:    os.Getenv("LISA_KEEP_VMS") == "1",
		SSHUser:    os.Getenv("LISA_USER"),
		SSHKeyFile: os.Getenv("SSH_PRIVKEY"),
		Timeout:    exec.DefaultTimeout,
	}
}

// Manager hands out connected Nodes and tears them down afterwards.
// It is not safe for concurrent use; tests acquire nodes one at a
// time. Concurrent test processes sharing a cache directory race on
// the same key; that is an accepted limitation.
type Manager struct {
	cfg    Config
	cache  *util.Cache
	prov   Provisioner
	runner exec.Runner

	open func(ctx context.Context, n *node.Node) error
}

// NewManager creates a Manager with its descriptor cache at
// cfg.CacheDir.
func NewManager(cfg Config) (*Manager, error) {
	cache, err := util.NewCache(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	runner := exec.NewLocalRunner()
	return &Manager{
		cfg:    cfg,
		cache:  cache,
		prov:   azure.NewClient(runner),
		runner: runner,
		open: func(ctx context.Context, n *node.Node) error {
			return n.Open(ctx)
		},
	}, nil
}

// ReleaseFunc releases a Node and, for provisioned deployments without
// retention, its cloud resources and cache entry. It runs at most once
// and is safe to call from a deferred statement on every exit path.
type ReleaseFunc func()

// Acquire resolves the intent into a connected Node. Exactly one path
// applies: provision-or-reuse for a Deploy intent, connect-only for a
// Connect intent, the local loopback host otherwise.
func (m *Manager) Acquire(ctx context.Context, intent *types.IntentSpec) (*node.Node, ReleaseFunc, error) {
	if intent == nil {
		intent = &types.IntentSpec{}
	}
	if err := intent.Validate(); err != nil {
		return nil, nil, err
	}

	var name, host string
	var desc types.Descriptor
	var cacheKey string
	deployed := false

	switch {
	case intent.Deploy != nil:
		cacheKey = intent.Deploy.CacheKey()
		deployed = true
		desc = m.lookup(cacheKey)
		if desc != nil {
			log.Info("reusing cached node", map[string]interface{}{
				"key":  cacheKey,
				"name": desc.Name(),
			})
			name = desc.Name()
			host = desc.Host()
			break
		}

		if err := m.prov.VerifyAccess(ctx); err != nil {
			return nil, nil, err
		}
		name = "lisa-" + uuid.NewString()
		var err error
		host, desc, err = m.prov.Deploy(ctx, name, intent.Deploy)
		if err != nil {
			return nil, nil, err
		}
		desc["name"] = name
		desc["host"] = host
		if err := m.store(cacheKey, desc); err != nil {
			return nil, nil, err
		}
	case intent.Connect != nil:
		host = intent.Connect.Host
		name = "pre-deployed:" + host
	default:
		host = "localhost"
		name = "localhost"
	}

	n := node.New(name, host, desc, node.Options{
		User:    m.cfg.SSHUser,
		KeyFile: m.cfg.SSHKeyFile,
		Timeout: m.cfg.Timeout,
		Runner:  m.runner,
	})
	if err := m.open(ctx, n); err != nil {
		return nil, nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.release(n, deployed, cacheKey)
		})
	}
	return n, release, nil
}

func (m *Manager) release(n *node.Node, deployed bool, cacheKey string) {
	if err := n.Close(); err != nil {
		log.Warn("failed to close the node", map[string]interface{}{
			"name":      n.Name(),
			log.FnError: err.Error(),
		})
	}

	if !deployed || m.cfg.KeepVMs {
		return
	}

	// Teardown failures are logged, not raised: the test result must
	// not be masked, but orphaned resources bill real money.
	if err := m.prov.Destroy(context.Background(), n.Name()); err != nil {
		log.Error("failed to destroy the deployment", map[string]interface{}{
			"name":      n.Name(),
			log.FnError: err.Error(),
		})
	}
	if err := m.cache.Delete(cacheKey); err != nil {
		log.Error("failed to invalidate the cache entry", map[string]interface{}{
			"key":       cacheKey,
			log.FnError: err.Error(),
		})
	}
}

func (m *Manager) lookup(key string) types.Descriptor {
	r, err := m.cache.Get(key)
	if err != nil {
		return nil
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil
	}
	desc := types.Descriptor{}
	if err := json.Unmarshal(data, &desc); err != nil {
		log.Warn("discarding a corrupt cache entry", map[string]interface{}{
			"key":       key,
			log.FnError: err.Error(),
		})
		m.cache.Delete(key)
		return nil
	}
	if desc.Name() == "" || desc.Host() == "" {
		return nil
	}
	return desc
}

func (m *Manager) store(key string, desc types.Descriptor) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	return m.cache.Put(key, bytes.NewReader(data))
}
