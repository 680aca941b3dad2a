package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Client runs rank processes on one remote node over SSH. Used by the
// fan-out launcher when no scheduler owns the job.
type Client struct {
	Host    string
	Port    int
	User    string
	Signer  xssh.Signer
	HostKey xssh.HostKeyCallback
	Timeout time.Duration
}

func (c *Client) config() (*xssh.ClientConfig, error) {
	if c.Signer == nil {
		return nil, errors.New("ssh: signer required")
	}
	if c.HostKey == nil {
		return nil, errors.New("ssh: host key callback required")
	}
	return &xssh.ClientConfig{
		User:            c.User,
		Auth:            []xssh.AuthMethod{xssh.PublicKeys(c.Signer)},
		HostKeyCallback: c.HostKey,
		Timeout:         c.Timeout,
	}, nil
}

func (c *Client) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

func (c *Client) dial(ctx context.Context) (*xssh.Client, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	type res struct {
		cli *xssh.Client
		err error
	}
	ch := make(chan res, 1)
	go func() {
		cli, err := xssh.Dial("tcp", c.addr(), cfg)
		ch <- res{cli: cli, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.cli, r.err
	}
}

// Run executes one command line on the node, streaming output to the given
// writers, and returns its exit code. A non-zero exit is a result, not an
// error.
func (c *Client) Run(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	cli, err := c.dial(ctx)
	if err != nil {
		return -1, fmt.Errorf("dial %s: %w", c.addr(), err)
	}
	defer cli.Close()
	session, err := cli.NewSession()
	if err != nil {
		return -1, fmt.Errorf("new session on %s: %w", c.Host, err)
	}
	defer session.Close()
	session.Stdout = stdout
	session.Stderr = stderr
	if err := session.Run(command); err != nil {
		var exitErr *xssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		return -1, fmt.Errorf("run on %s: %w", c.Host, err)
	}
	return 0, nil
}

// Push stages a local file onto the node via SFTP, creating remote
// directories and preserving the file mode.
func (c *Client) Push(ctx context.Context, localPath, remotePath string) error {
	cli, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr(), err)
	}
	defer cli.Close()
	sf, err := sftp.NewClient(cli)
	if err != nil {
		return fmt.Errorf("sftp client: %w", err)
	}
	defer sf.Close()
	if err := sf.MkdirAll(filepath.Dir(remotePath)); err != nil {
		return fmt.Errorf("mkdir remote: %w", err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local: %w", err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat local: %w", err)
	}
	dst, err := sf.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := sf.Chmod(remotePath, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod remote: %w", err)
	}
	return nil
}

// LoadSigner reads an OpenSSH/PEM private key file without a passphrase.
func LoadSigner(path string) (xssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := xssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// KnownHostsCallback returns a strict host key callback for the given file.
func KnownHostsCallback(path string) (xssh.HostKeyCallback, error) {
	return knownhosts.New(path)
}
