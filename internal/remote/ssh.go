package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// CredentialResolver turns a host's credential reference into an SSH signer
type CredentialResolver interface {
	Signer(ref string) (ssh.Signer, error)
}

// CredentialFunc adapts a function to CredentialResolver
type CredentialFunc func(ref string) (ssh.Signer, error)

func (f CredentialFunc) Signer(ref string) (ssh.Signer, error) {
	return f(ref)
}

// FileCredentials reads unencrypted private keys; relative references resolve against Dir
type FileCredentials struct {
	Dir string
}

func (c FileCredentials) Signer(ref string) (ssh.Signer, error) {
	if ref == "" {
		return nil, ErrNoCredential
	}

	path := ref
	if !filepath.IsAbs(path) && c.Dir != "" {
		path = filepath.Join(c.Dir, ref)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse key %s: %v", ErrNoCredential, ref, err)
	}
	return signer, nil
}

type SSHConfig struct {
	DefaultUser string
	// DialTimeout bounds the TCP connect plus SSH handshake
	DialTimeout time.Duration
	// HostKeyCallback defaults to accepting any key, logged once per client
	HostKeyCallback ssh.HostKeyCallback
}

// SSHClient runs one command per connection
type SSHClient struct {
	config SSHConfig
	creds  CredentialResolver
	logger *zap.Logger
}

func NewSSHClient(cfg SSHConfig, creds CredentialResolver, logger *zap.Logger) *SSHClient {
	if cfg.DefaultUser == "" {
		cfg.DefaultUser = "sentinel"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.HostKeyCallback == nil {
		logger.Warn("No known_hosts file configured, remote host keys are not verified")
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &SSHClient{
		config: cfg,
		creds:  creds,
		logger: logger,
	}
}

// KnownHostsCallback verifies host keys against an OpenSSH known_hosts file
func KnownHostsCallback(path string) (ssh.HostKeyCallback, error) {
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", path, err)
	}
	return callback, nil
}

// Run executes command on host and returns its stdout. A non-zero exit is an error
// carrying stderr. Cancelling ctx closes the connection.
func (c *SSHClient) Run(ctx context.Context, host *models.Host, command string) ([]byte, error) {
	client, err := c.dial(ctx, host)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session on %s: %w", host.Address(), err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, c.commandError(host, err, stderr.String())
		}
	}

	c.logger.Debug("Remote command complete",
		zap.String("host", host.HostID),
		zap.Int("bytes", stdout.Len()),
	)

	return stdout.Bytes(), nil
}

func (c *SSHClient) dial(ctx context.Context, host *models.Host) (*ssh.Client, error) {
	signer, err := c.creds.Signer(host.CredentialRef)
	if err != nil {
		return nil, err
	}

	user := host.Username
	if user == "" {
		user = c.config.DefaultUser
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: c.config.HostKeyCallback,
		Timeout:         c.config.DialTimeout,
	}

	addr := host.Address()

	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	// Bound the handshake, then clear the deadline for the command itself
	deadline, _ := dialCtx.Deadline()
	conn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %s@%s: %v", ErrAuthentication, user, addr, err)
		}
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}

	conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (c *SSHClient) commandError(host *models.Host, err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) && strings.Contains(strings.ToLower(stderr), "permission denied") {
		return fmt.Errorf("%w: %s: %s", ErrPermission, host.HostID, stderr)
	}

	if stderr != "" {
		return fmt.Errorf("command on %s failed: %w: %s", host.HostID, err, stderr)
	}
	return fmt.Errorf("command on %s failed: %w", host.HostID, err)
}
