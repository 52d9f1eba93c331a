// Package bash implements the command source: shell commands run locally or
// on a remote host over SSH.
package bash

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"sourcebridge.dev/internal/credentials"
	"sourcebridge.dev/internal/source"
)

const defaultSSHPort = "22"

// Processor runs shell commands for one connector. With no remote host
// configured, commands run locally under /bin/bash.
type Processor struct {
	remoteHost     string
	remoteUser     string
	remotePassword string
	remotePEM      string
	port           string
}

// NewProcessor builds a command runner from connector credentials. A
// user@host remote_host value carries the login user.
func NewProcessor(conn *source.Connector) (*Processor, error) {
	creds := credentials.CredentialsDict(conn)
	p := &Processor{
		remoteHost:     creds["remote_host"],
		remoteUser:     creds["remote_user"],
		remotePassword: creds["remote_password"],
		remotePEM:      strings.TrimSpace(creds["remote_pem"]),
		port:           defaultSSHPort,
	}
	if at := strings.Index(p.remoteHost, "@"); at >= 0 {
		p.remoteUser = p.remoteHost[:at]
		p.remoteHost = p.remoteHost[at+1:]
	}
	return p, nil
}

// Target names the host commands run on, for result labeling.
func (p *Processor) Target() string {
	if p.remoteHost == "" {
		return "localhost"
	}
	return p.remoteHost
}

// TestConnection runs a trivial echo through the configured target.
func (p *Processor) TestConnection(ctx context.Context) error {
	_, err := p.Run(ctx, `echo "Connection successful"`)
	return err
}

// Run executes one command and returns its combined output. A non-zero exit
// status is an error carrying the output collected so far.
func (p *Processor) Run(ctx context.Context, command string) (string, error) {
	if p.remoteHost == "" {
		return p.runLocal(ctx, command)
	}
	return p.runRemote(ctx, command)
}

func (p *Processor) runLocal(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", command)
	cmd.Env = os.Environ()

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("command failed: %w", err)
	}
	return out.String(), nil
}

func (p *Processor) runRemote(ctx context.Context, command string) (string, error) {
	cfg, err := p.sshConfig()
	if err != nil {
		return "", err
	}

	addr := net.JoinHostPort(p.remoteHost, p.port)
	dialer := net.Dialer{Timeout: cfg.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return "", fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	// Cancel tears the session down, which unblocks CombinedOutput.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	out, err := session.CombinedOutput(command)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return string(out), ctxErr
		}
		return string(out), fmt.Errorf("remote command failed: %w", err)
	}
	return string(out), nil
}

func (p *Processor) sshConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if p.remotePEM != "" {
		var signer ssh.Signer
		var err error
		if p.remotePassword != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(p.remotePEM), []byte(p.remotePassword))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(p.remotePEM))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else if p.remotePassword != "" {
		auth = append(auth, ssh.Password(p.remotePassword))
	}
	if len(auth) == 0 {
		return nil, source.NewConfigurationError("remote host %s has no usable credentials", p.remoteHost)
	}

	return &ssh.ClientConfig{
		User:            p.remoteUser,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	}, nil
}
