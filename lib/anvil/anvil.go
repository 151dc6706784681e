// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package anvil launches the backend Ethereum dev node as a child process
// and reports when it is ready to serve RPC.
//
// Readiness is detected by scanning the node's standard output for
// [ReadyMarker]. Launch blocks until the marker appears, the process
// exits, or the caller's context is done; in the last two cases the
// process is stopped and an error returned. Once ready, output keeps
// being drained into the logger for the lifetime of the process so the
// node never blocks on a full pipe.
package anvil

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ReadyMarker is the text the node prints once its RPC listener is up.
const ReadyMarker = "Listening"

// Defaults applied by [Config.withDefaults].
const (
	DefaultBinary   = "anvil"
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 18545
	DefaultAccounts = 3
	DefaultBalance  = 1000
	DefaultChainID  = 1
)

// Config describes how to start the node.
type Config struct {
	// Binary is the node executable. Defaults to "anvil" on PATH.
	Binary string

	// Host and Port are the node's RPC listen address. The gateway
	// reaches the node at this address, and nothing else should.
	Host string
	Port int

	// Accounts is the number of funded dev accounts derived from the
	// mnemonic.
	Accounts int

	// Balance is the starting balance of each dev account, in ether.
	Balance int

	// ChainID is the chain identifier the node reports.
	ChainID int

	// ForkURL, when non-empty, makes the node fork the chain served at
	// that upstream RPC endpoint. Empty means a fresh chain.
	ForkURL string

	// Logger receives the node's output and lifecycle events.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Accounts == 0 {
		c.Accounts = DefaultAccounts
	}
	if c.Balance == 0 {
		c.Balance = DefaultBalance
	}
	if c.ChainID == 0 {
		c.ChainID = DefaultChainID
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Args returns the node's command-line arguments for mnemonic.
func (c Config) Args(mnemonic string) []string {
	c = c.withDefaults()
	args := []string{
		"--host", c.Host,
		"--port", strconv.Itoa(c.Port),
		"--accounts", strconv.Itoa(c.Accounts),
		"--balance", strconv.Itoa(c.Balance),
		"--chain-id", strconv.Itoa(c.ChainID),
	}
	if c.ForkURL != "" {
		args = append(args, "--fork-url", c.ForkURL)
	}
	return append(args, "--mnemonic", mnemonic)
}

// Address returns the node's host:port.
func (c Config) Address() string {
	c = c.withDefaults()
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Launcher starts node processes from a fixed configuration.
type Launcher struct {
	config Config
}

// NewLauncher validates config and returns a launcher.
func NewLauncher(config Config) (*Launcher, error) {
	config = config.withDefaults()
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid node port %d", config.Port)
	}
	if config.Accounts < 2 {
		return nil, fmt.Errorf("node needs at least 2 accounts (system and player), got %d", config.Accounts)
	}
	return &Launcher{config: config}, nil
}

// Launch starts the node with mnemonic and waits for [ReadyMarker].
// The returned Node outlives ctx; ctx only bounds the startup wait.
func (l *Launcher) Launch(ctx context.Context, mnemonic string) (*Node, error) {
	logger := l.config.Logger
	command := exec.Command(l.config.Binary, l.config.Args(mnemonic)...)

	stdout, err := command.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating node stdout pipe: %w", err)
	}
	stderr, err := command.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating node stderr pipe: %w", err)
	}

	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", l.config.Binary, err)
	}

	node := &Node{
		command: command,
		address: l.config.Address(),
		done:    make(chan struct{}),
		logger:  logger,
	}
	logger.Info("backend node started",
		"binary", l.config.Binary,
		"pid", command.Process.Pid,
		"address", node.address,
		"forked", l.config.ForkURL != "",
	)

	ready := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		node.scanOutput(stdout, "stdout", ready)
	}()
	go func() {
		defer readers.Done()
		node.scanOutput(stderr, "stderr", nil)
	}()

	// Wait must not run until both pipes are drained.
	go func() {
		readers.Wait()
		node.exitErr = command.Wait()
		close(node.done)
	}()

	select {
	case <-ready:
		logger.Info("backend node ready", "address", node.address)
		return node, nil
	case <-node.done:
		return nil, fmt.Errorf("backend node exited before becoming ready: %w", node.exitError())
	case <-ctx.Done():
		node.Stop(stopGracePeriod)
		return nil, fmt.Errorf("waiting for backend node readiness: %w", ctx.Err())
	}
}

// stopGracePeriod is how long Stop waits after SIGTERM before killing.
const stopGracePeriod = 5 * time.Second

// Node is a running backend node process.
type Node struct {
	command *exec.Cmd
	address string
	logger  *slog.Logger

	done    chan struct{}
	exitErr error // valid after done is closed
}

// URL returns the node's HTTP JSON-RPC endpoint.
func (n *Node) URL() string {
	return "http://" + n.address
}

// WebSocketURL returns the node's WebSocket JSON-RPC endpoint.
func (n *Node) WebSocketURL() string {
	return "ws://" + n.address
}

// Done is closed when the process has exited.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Stop terminates the process: SIGTERM, then SIGKILL if it has not
// exited within grace. Safe to call more than once and after exit.
func (n *Node) Stop(grace time.Duration) {
	select {
	case <-n.done:
		return
	default:
	}

	if err := n.command.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		n.logger.Warn("signaling backend node", "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-n.done:
	case <-timer.C:
		n.logger.Warn("backend node did not exit after SIGTERM, killing", "grace", grace)
		n.command.Process.Kill()
		<-n.done
	}
	n.logger.Info("backend node stopped", "exit", n.exitError())
}

func (n *Node) exitError() error {
	if n.exitErr == nil {
		return errors.New("exit status 0")
	}
	return n.exitErr
}

// scanOutput logs each line from reader. When ready is non-nil it is
// closed on the first line containing ReadyMarker.
func (n *Node) scanOutput(reader io.Reader, stream string, ready chan struct{}) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if ready != nil && strings.Contains(line, ReadyMarker) {
			close(ready)
			ready = nil
		}
		n.logger.Debug("backend node output", "stream", stream, "line", line)
	}
	if err := scanner.Err(); err != nil {
		n.logger.Warn("reading backend node output", "stream", stream, "error", err)
		// Keep the pipe drained so the node never blocks on a write.
		io.Copy(io.Discard, reader)
	}
}
