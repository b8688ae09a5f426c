// Package azureblob implements the hoard backend on Azure Blob Storage.
//
// One storage account provides the three containers of a backend side
// (persistent, staging, archive). Accounts are configured with either a
// shared key — required for minting signed URLs — or a pre-issued SAS token
// for read-only and externally-credentialed setups.
package azureblob

import (
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/hoardlabs/hoard"
)

// Default container names within one storage account.
const (
	DefaultPersistentContainer = "persistent"
	DefaultStagingContainer    = "staging"
	DefaultArchiveContainer    = "archive"
)

// Config describes one storage account.
type Config struct {
	AccountName string
	AccountKey  string

	// SASToken (without leading '?') is used instead of AccountKey for
	// SAS-only configurations. Such accounts cannot mint download URLs.
	SASToken string

	// Endpoint overrides the default https://<account>.blob.core.windows.net,
	// e.g. for Azurite.
	Endpoint string

	// Container name overrides; empty fields use the defaults.
	PersistentContainer string
	StagingContainer    string
	ArchiveContainer    string
}

func (c Config) endpoint() string {
	if c.Endpoint != "" {
		return strings.TrimSuffix(c.Endpoint, "/")
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net", c.AccountName)
}

// ParseConnectionString reads the standard Azure storage connection string
// format (semicolon-separated key=value pairs).
func ParseConnectionString(cs string) (Config, error) {
	cfg := Config{}
	proto := "https"
	suffix := "core.windows.net"
	for _, part := range strings.Split(cs, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return Config{}, fmt.Errorf("azureblob: malformed connection string segment %q", key)
		}
		switch key {
		case "DefaultEndpointsProtocol":
			proto = value
		case "AccountName":
			cfg.AccountName = value
		case "AccountKey":
			cfg.AccountKey = value
		case "EndpointSuffix":
			suffix = value
		case "BlobEndpoint":
			cfg.Endpoint = value
		case "SharedAccessSignature":
			cfg.SASToken = strings.TrimPrefix(value, "?")
		}
	}
	if cfg.AccountName == "" && cfg.Endpoint == "" {
		return Config{}, fmt.Errorf("azureblob: connection string names no account and no blob endpoint")
	}
	if cfg.AccountKey == "" && cfg.SASToken == "" {
		return Config{}, fmt.Errorf("azureblob: connection string carries neither an account key nor a SAS")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = fmt.Sprintf("%s://%s.blob.%s", proto, cfg.AccountName, suffix)
	}
	return cfg, nil
}

// NewContainers builds the three hoard containers of one storage account.
func NewContainers(cfg Config) (hoard.Containers, error) {
	names := [3]string{cfg.PersistentContainer, cfg.StagingContainer, cfg.ArchiveContainer}
	defaults := [3]string{DefaultPersistentContainer, DefaultStagingContainer, DefaultArchiveContainer}
	var built [3]*Container

	var cred *azblob.SharedKeyCredential
	if cfg.AccountKey != "" {
		var err error
		cred, err = azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return hoard.Containers{}, fmt.Errorf("azureblob: build credentials: %w", err)
		}
	}

	for i, name := range names {
		if name == "" {
			name = defaults[i]
		}
		c, err := newContainer(cfg, cred, name)
		if err != nil {
			return hoard.Containers{}, err
		}
		built[i] = c
	}
	return hoard.Containers{
		Persistent: built[0],
		Staging:    built[1],
		Archive:    built[2],
	}, nil
}

func newContainer(cfg Config, cred *azblob.SharedKeyCredential, name string) (*Container, error) {
	url := cfg.endpoint() + "/" + name
	var (
		client *container.Client
		err    error
	)
	if cred != nil {
		client, err = container.NewClientWithSharedKeyCredential(url, cred, nil)
	} else {
		client, err = container.NewClientWithNoCredential(url+"?"+cfg.SASToken, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("azureblob: create client for container %q: %w", name, err)
	}
	return &Container{client: client, cred: cred, containerName: name}, nil
}

// OpenStore builds a store from a connection string. Two connection strings
// joined by "||" select the dual-backend migration store (old side first);
// a single one selects the plain single-backend store.
func OpenStore(connectionString, realm string, opts ...hoard.Option) (hoard.Store, error) {
	oldCS, newCS, dual := strings.Cut(connectionString, "||")
	if !dual {
		c, err := containersFromCS(oldCS)
		if err != nil {
			return nil, err
		}
		return hoard.NewStore(c, realm, opts...), nil
	}
	oldC, err := containersFromCS(oldCS)
	if err != nil {
		return nil, err
	}
	newC, err := containersFromCS(newCS)
	if err != nil {
		return nil, err
	}
	return hoard.NewDualStore(
		hoard.NewStore(oldC, realm, opts...),
		hoard.NewStore(newC, realm, opts...),
	), nil
}

func containersFromCS(cs string) (hoard.Containers, error) {
	cfg, err := ParseConnectionString(strings.TrimSpace(cs))
	if err != nil {
		return hoard.Containers{}, err
	}
	return NewContainers(cfg)
}
