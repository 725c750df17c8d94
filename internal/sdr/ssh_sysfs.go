package sdr

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig describes how to reach a Pluto-class receiver over SSH.
type SSHConfig struct {
	Host      string
	User      string
	Password  string
	KeyPath   string
	Port      int
	SysfsRoot string
}

func (c SSHConfig) withDefaults() SSHConfig {
	if c.User == "" {
		c.User = "root"
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.SysfsRoot == "" {
		c.SysfsRoot = "/sys/bus/iio/devices"
	}
	return c
}

// SSHSysfs writes IIO attributes through sysfs and runs sample capture
// commands on the receiver over one SSH connection.
type SSHSysfs struct {
	mu      sync.Mutex
	cfg     SSHConfig
	client  *ssh.Client
	devices map[string]string // IIO name -> iio:deviceN
}

// NewSSHSysfs validates configuration and prepares an instance. The
// connection is dialed lazily.
func NewSSHSysfs(cfg SSHConfig) (*SSHSysfs, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required")
	}
	return &SSHSysfs{cfg: cfg.withDefaults(), devices: make(map[string]string)}, nil
}

// WriteAttribute writes value to the sysfs file of the IIO attribute
// triple (device/channel/attr).
func (w *SSHSysfs) WriteAttribute(ctx context.Context, device, channel, attr, value string) error {
	dir, err := w.resolve(ctx, device)
	if err != nil {
		return err
	}
	target := attributePath(w.cfg.SysfsRoot, dir, channel, attr)
	// printf avoids shell interpretation of the value contents.
	cmd := fmt.Sprintf("printf %s > %s", shellQuote(value), target)
	if _, err := w.run(ctx, cmd); err != nil {
		return fmt.Errorf("write sysfs attribute %s: %w", target, err)
	}
	return nil
}

// ReadAttribute returns the trimmed contents of an attribute file.
func (w *SSHSysfs) ReadAttribute(ctx context.Context, device, channel, attr string) (string, error) {
	dir, err := w.resolve(ctx, device)
	if err != nil {
		return "", err
	}
	target := attributePath(w.cfg.SysfsRoot, dir, channel, attr)
	out, err := w.run(ctx, "cat "+target)
	if err != nil {
		return "", fmt.Errorf("read sysfs attribute %s: %w", target, err)
	}
	return strings.TrimSpace(out), nil
}

// Start launches cmd on the receiver and returns its stdout. Closing the
// session terminates the command.
func (w *SSHSysfs) Start(ctx context.Context, cmd string) (*ssh.Session, io.Reader, error) {
	client, err := w.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, nil, fmt.Errorf("create ssh session: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := session.Start(cmd); err != nil {
		_ = session.Close()
		return nil, nil, fmt.Errorf("start %q: %w", cmd, err)
	}
	return session, stdout, nil
}

// Close drops the SSH connection.
func (w *SSHSysfs) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return nil
	}
	err := w.client.Close()
	w.client = nil
	return err
}

// resolve maps an IIO device name such as "ad9361-phy" to its sysfs
// directory name.
func (w *SSHSysfs) resolve(ctx context.Context, name string) (string, error) {
	w.mu.Lock()
	dir, ok := w.devices[name]
	w.mu.Unlock()
	if ok {
		return dir, nil
	}

	cmd := fmt.Sprintf("grep -lx %s %s/iio:device*/name", shellQuote(name), w.cfg.SysfsRoot)
	out, err := w.run(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("resolve iio device %q: %w", name, err)
	}
	dir = parseResolved(out)
	if dir == "" {
		return "", fmt.Errorf("iio device %q not found", name)
	}

	w.mu.Lock()
	w.devices[name] = dir
	w.mu.Unlock()
	return dir, nil
}

func parseResolved(out string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	if line == "" {
		return ""
	}
	return path.Base(path.Dir(strings.TrimSpace(line)))
}

func (w *SSHSysfs) run(ctx context.Context, cmd string) (string, error) {
	client, err := w.dial(ctx)
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()
	out, err := session.Output(cmd)
	return string(out), err
}

func (w *SSHSysfs) dial(ctx context.Context) (*ssh.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.client != nil {
		return w.client, nil
	}

	auth := []ssh.AuthMethod{}
	if w.cfg.Password != "" {
		auth = append(auth, ssh.Password(w.cfg.Password))
	}
	if w.cfg.KeyPath != "" {
		key, err := os.ReadFile(w.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	config := &ssh.ClientConfig{
		User:            w.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}

	addr := net.JoinHostPort(w.cfg.Host, fmt.Sprint(w.cfg.Port))
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create ssh client: %w", err)
	}

	w.client = ssh.NewClient(clientConn, chans, reqs)
	return w.client, nil
}

// attributePath builds the sysfs file for an attribute. Channels named
// altvoltageN or out_* are outputs; everything else is an input.
func attributePath(root, dir, channel, attr string) string {
	base := path.Join(root, dir)
	if channel == "" {
		return path.Join(base, attr)
	}

	prefix := "in"
	lower := strings.ToLower(channel)
	if strings.HasPrefix(lower, "altvoltage") || strings.HasPrefix(lower, "out_") {
		prefix = "out"
	}
	return path.Join(base, fmt.Sprintf("%s_%s_%s", prefix, strings.TrimPrefix(channel, "out_"), attr))
}

// shellQuote returns a value wrapped in single quotes with embedded quotes escaped
// for safe shell usage.
func shellQuote(value string) string {
	escaped := strings.ReplaceAll(value, "'", "'\\''")
	return fmt.Sprintf("'%s'", escaped)
}
