package types

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/runtime/serializer/json"
	"sigs.k8s.io/yaml"
)

// Default deployment parameters applied when a DeploySpec leaves them empty.
const (
	DefaultLocation = "westus2"
	DefaultImage    = "UbuntuLTS"
	DefaultSize     = "Standard_DS1_v2"
)

// NetworkingSRIOV requests accelerated networking for the VM.
const NetworkingSRIOV = "SRIOV"

// DeploySpec represents a Deployment intent in YAML.
type DeploySpec struct {
	Kind       string `json:"kind,omitempty"`
	Image      string `json:"image,omitempty"`
	Size       string `json:"size,omitempty"`
	Location   string `json:"location,omitempty"`
	Setup      string `json:"setup,omitempty"`
	Networking string `json:"networking,omitempty"`
}

func (d *DeploySpec) validate() error {
	switch d.Networking {
	case "", NetworkingSRIOV:
	default:
		return errors.New("unknown networking mode: " + d.Networking)
	}
	return nil
}

// CacheKey derives a stable cache key from the declared parameters.
// Empty parameters are excluded, and the remaining field=value pairs
// are sorted so that the key does not depend on declaration order.
func (d *DeploySpec) CacheKey() string {
	pairs := []struct{ field, value string }{
		{"image", d.Image},
		{"location", d.Location},
		{"networking", d.Networking},
		{"setup", d.Setup},
		{"size", d.Size},
	}
	elems := []string{"node"}
	declared := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		declared = append(declared, p.field+"="+p.value)
	}
	sort.Strings(declared)
	return strings.Join(append(elems, declared...), "/")
}

// ConnectSpec represents a Connect intent in YAML.
type ConnectSpec struct {
	Kind string `json:"kind,omitempty"`
	Host string `json:"host"`
}

func (c *ConnectSpec) validate() error {
	if len(c.Host) == 0 {
		return errors.New("host is empty")
	}
	return nil
}

// IntentSpec declares what a test (or the CLI) needs: a freshly
// provisioned VM, a connection to an existing host, or, when both are
// nil, the local loopback host.
type IntentSpec struct {
	Deploy  *DeploySpec
	Connect *ConnectSpec
}

// Validate rejects an intent declaring both a deployment and a
// connection target.
func (s *IntentSpec) Validate() error {
	if s.Deploy != nil && s.Connect != nil {
		return errors.New("deploy and connect intents are mutually exclusive")
	}
	if s.Deploy != nil {
		if err := s.Deploy.validate(); err != nil {
			return fmt.Errorf("invalid Deployment resource: %w", err)
		}
	}
	if s.Connect != nil {
		if err := s.Connect.validate(); err != nil {
			return fmt.Errorf("invalid Connect resource: %w", err)
		}
	}
	return nil
}

// Descriptor is the record describing a provisioned VM as returned by
// the cloud CLI, plus the deployment name and reachable host address.
type Descriptor map[string]string

// Name returns the deployment name recorded in the descriptor.
func (d Descriptor) Name() string {
	return d["name"]
}

// Host returns the reachable host address recorded in the descriptor.
func (d Descriptor) Host() string {
	return d["host"]
}

type baseConfig struct {
	Kind string `json:"kind"`
}

// Parse reads yaml documents and creates an IntentSpec.
func Parse(r io.Reader) (*IntentSpec, error) {
	intent := &IntentSpec{}
	f := json.YAMLFramer.NewFrameReader(io.NopCloser(r))
	for {
		y, err := readSingleYamlDoc(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		b := &baseConfig{}
		if err := yaml.Unmarshal(y, b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal the yaml document %s: %w", y, err)
		}

		switch b.Kind {
		case "Deployment":
			d := &DeploySpec{}
			if err := yaml.Unmarshal(y, d); err != nil {
				return nil, fmt.Errorf("failed to unmarshal the Deployment yaml document %s: %w", y, err)
			}
			if intent.Deploy != nil {
				return nil, errors.New("duplicate Deployment resource")
			}
			intent.Deploy = d
		case "Connect":
			c := &ConnectSpec{}
			if err := yaml.Unmarshal(y, c); err != nil {
				return nil, fmt.Errorf("failed to unmarshal the Connect yaml document %s: %w", y, err)
			}
			if intent.Connect != nil {
				return nil, errors.New("duplicate Connect resource")
			}
			intent.Connect = c
		default:
			return nil, errors.New("unknown resource: " + b.Kind)
		}
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	return intent, nil
}

func readSingleYamlDoc(reader io.Reader) ([]byte, error) {
	buf := make([]byte, 1024)
	maxBytes := 16 * 1024 * 1024
	base := 0
	for {
		n, err := reader.Read(buf[base:])
		if err == io.ErrShortBuffer {
			if n == 0 {
				return nil, fmt.Errorf("got short buffer with n=0, base=%d, cap=%d", base, cap(buf))
			}
			if len(buf) < maxBytes {
				base += n
				buf = append(buf, make([]byte, len(buf))...)
				continue
			}
			return nil, errors.New("yaml document is too large")
		}
		if err != nil {
			return nil, err
		}
		base += n
		return buf[:base], nil
	}
}
