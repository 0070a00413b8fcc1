package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ynhctl/ynhctl/pkg/config"
	"github.com/ynhctl/ynhctl/pkg/engine"
	"github.com/ynhctl/ynhctl/pkg/providers/yunohost"
	"github.com/ynhctl/ynhctl/pkg/stores"
	"github.com/ynhctl/ynhctl/pkg/transports"
	"github.com/ynhctl/ynhctl/pkg/transports/local"
	"github.com/ynhctl/ynhctl/pkg/transports/ssh"
)

// sshPasswordEnv names the environment variable consulted for SSH password
// authentication. A flag would leak the password into shell history and
// process listings.
const sshPasswordEnv = "YNHCTL_SSH_PASSWORD"

// targetFlags is the flag set shared by every command that talks to a host.
type targetFlags struct {
	target          string
	sshUser         string
	sshPort         int
	identity        string
	knownHosts      string
	insecureHostKey bool
	sudo            bool
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.target, "target", "t", "local", "target host (hostname for SSH, 'local' for this machine)")
	cmd.Flags().StringVar(&f.sshUser, "ssh-user", "root", "SSH user")
	cmd.Flags().IntVar(&f.sshPort, "ssh-port", 22, "SSH port")
	cmd.Flags().StringVarP(&f.identity, "identity", "i", "", "SSH private key path")
	cmd.Flags().StringVar(&f.knownHosts, "known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	cmd.Flags().BoolVar(&f.insecureHostKey, "insecure-host-key", false, "skip host key verification (testing only)")
	cmd.Flags().BoolVar(&f.sudo, "sudo", false, "wrap platform commands in sudo")
}

// newTransport builds and connects the transport for the selected target.
// The caller owns the returned transport and must Close it.
func (f *targetFlags) newTransport(ctx context.Context) (transports.Transport, error) {
	if f.target == "" || f.target == "local" {
		t := local.New(0)
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
		return t, nil
	}

	cfg := ssh.DefaultConfig(f.target, f.sshUser)
	cfg.Port = f.sshPort
	if f.identity != "" {
		cfg.AuthMethod = ssh.AuthMethodKey
		cfg.PrivateKeyPath = f.identity
	}
	if password := os.Getenv(sshPasswordEnv); password != "" {
		cfg.AuthMethod = ssh.AuthMethodPassword
		cfg.Password = password
	}
	if f.knownHosts != "" {
		cfg.KnownHostsPath = f.knownHosts
	}
	if f.insecureHostKey {
		cfg.StrictHostKeyChecking = false
	}

	client, err := ssh.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", f.target, err)
	}
	return client, nil
}

// newProvider builds the platform provider over a connected transport.
func (f *targetFlags) newProvider(t transports.Transport) *yunohost.Provider {
	return yunohost.New(t, yunohost.Options{UseSudo: f.sudo})
}

// defaultStatePath returns the default state database location.
func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ynhctl.db"
	}
	return filepath.Join(home, ".ynhctl", "state.db")
}

// openStore opens, initializes and migrates the state database.
func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path == "" {
		path = defaultStatePath()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// loadDesired loads the configuration file and normalizes it into the
// desired state. Validation failures come back as a config.LoadError
// listing every issue.
func loadDesired(ctx context.Context, path string) (*engine.DesiredState, *config.Config, error) {
	parser := config.NewParser()
	cfg, err := parser.Load(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	desired, err := engine.NewNormalizer().Normalize(cfg.ToRawConfig())
	if err != nil {
		return nil, nil, err
	}
	return desired, cfg, nil
}

// probeHost connects to the target and probes its current state.
func probeHost(ctx context.Context, flags *targetFlags) (*engine.HostState, error) {
	transport, err := flags.newTransport(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = transport.Close() }()

	start := time.Now()
	state, err := flags.newProvider(transport).Probe(ctx)
	if err != nil {
		return nil, err
	}
	logger().Debug().
		Str("host", state.Host).
		Dur("duration", time.Since(start)).
		Msg("Probe completed")
	return state, nil
}
