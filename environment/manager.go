// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/anvilgate/lib/anvil"
	"github.com/bureau-foundation/anvilgate/lib/envrecord"
	"github.com/bureau-foundation/anvilgate/lib/wallet"
)

// Defaults applied by NewManager.
const (
	DefaultStartupTimeout = 60 * time.Second
	DefaultDeployTimeout  = 5 * time.Minute
)

// nodeStopGrace bounds how long a node gets to exit after SIGTERM.
const nodeStopGrace = 5 * time.Second

// Node is a running backend node.
type Node interface {
	URL() string
	Stop(grace time.Duration)
}

// Launcher starts a backend node funded from mnemonic and returns once
// it is ready to serve RPC or ctx is done.
type Launcher interface {
	Launch(ctx context.Context, mnemonic string) (Node, error)
}

// Deployer deploys the challenge project to the node at rpcURL and
// returns the challenge address.
type Deployer interface {
	Deploy(ctx context.Context, rpcURL, projectDirectory, mnemonic string) (string, error)
}

// RecordStore persists the environment record.
type RecordStore interface {
	Load() (envrecord.Record, error)
	Save(envrecord.Record) error
}

// Observer receives lifecycle events. Implementations must not block.
type Observer interface {
	ObserveState(State)
	ObserveProvisioning(duration time.Duration, err error)
}

// AnvilLauncher adapts an [anvil.Launcher] to [Launcher].
func AnvilLauncher(launcher *anvil.Launcher) Launcher {
	return anvilLauncher{launcher: launcher}
}

type anvilLauncher struct {
	launcher *anvil.Launcher
}

func (a anvilLauncher) Launch(ctx context.Context, mnemonic string) (Node, error) {
	node, err := a.launcher.Launch(ctx, mnemonic)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Config configures a Manager.
type Config struct {
	Launcher Launcher
	Deployer Deployer
	Store    RecordStore

	// ProjectDirectory is the challenge project handed to the Deployer.
	ProjectDirectory string

	// RPCURL is the public endpoint reported in handles.
	RPCURL string

	// StartupTimeout bounds the wait for the node's readiness marker.
	StartupTimeout time.Duration

	// DeployTimeout bounds the deployment script.
	DeployTimeout time.Duration

	// NewMnemonic generates the environment's mnemonic. Defaults to
	// [wallet.NewMnemonic].
	NewMnemonic func() (string, error)

	// Observer, when non-nil, is told about state changes and attempts.
	Observer Observer

	Logger *slog.Logger
}

// Manager provisions and owns the backend environment. It is safe for
// concurrent use.
type Manager struct {
	launcher         Launcher
	deployer         Deployer
	store            RecordStore
	projectDirectory string
	rpcURL           string
	startupTimeout   time.Duration
	deployTimeout    time.Duration
	newMnemonic      func() (string, error)
	observer         Observer
	logger           *slog.Logger

	// background attempts run under this context; Close cancels it.
	backgroundCtx    context.Context
	backgroundCancel context.CancelFunc
	background       sync.WaitGroup

	mu      sync.Mutex
	state   State
	record  envrecord.Record
	handle  *Handle
	node    Node
	lastErr error
	closed  bool

	// settled is closed when the in-flight attempt finishes. Nil
	// unless state is Provisioning.
	settled chan struct{}
}

// NewManager loads the persisted record and returns a manager. With a
// record present the manager starts Ready; otherwise Uninitialized.
func NewManager(config Config) (*Manager, error) {
	if config.Launcher == nil {
		return nil, errors.New("environment manager requires a Launcher")
	}
	if config.Deployer == nil {
		return nil, errors.New("environment manager requires a Deployer")
	}
	if config.Store == nil {
		return nil, errors.New("environment manager requires a RecordStore")
	}
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = DefaultStartupTimeout
	}
	if config.DeployTimeout <= 0 {
		config.DeployTimeout = DefaultDeployTimeout
	}
	if config.NewMnemonic == nil {
		config.NewMnemonic = wallet.NewMnemonic
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	record, err := config.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading environment record: %w", err)
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	manager := &Manager{
		launcher:         config.Launcher,
		deployer:         config.Deployer,
		store:            config.Store,
		projectDirectory: config.ProjectDirectory,
		rpcURL:           config.RPCURL,
		startupTimeout:   config.StartupTimeout,
		deployTimeout:    config.DeployTimeout,
		newMnemonic:      config.NewMnemonic,
		observer:         config.Observer,
		logger:           config.Logger,
		backgroundCtx:    backgroundCtx,
		backgroundCancel: backgroundCancel,
	}

	if !record.Empty() {
		handle, err := NewHandle(record, config.RPCURL)
		if err != nil {
			backgroundCancel()
			return nil, fmt.Errorf("environment record: %w", err)
		}
		manager.state = Ready
		manager.record = record
		manager.handle = handle
		manager.logger.Info("environment record loaded",
			"challenge_address", record.ChallengeAddress,
			"player_address", handle.PlayerAddress,
		)
	}
	manager.notifyState(manager.state)
	return manager, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Record returns the persisted record when Ready.
func (m *Manager) Record() (envrecord.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record, m.state == Ready
}

// Handle returns the environment handle when Ready.
func (m *Manager) Handle() (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle, m.state == Ready
}

// LastError returns the error of the most recent failed attempt, or
// nil if the last attempt succeeded or none has finished.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// EnsureProvisioned returns the handle, provisioning the environment
// first if nothing has been provisioned yet. It returns [ErrNotReady]
// without blocking when another attempt is already in flight.
func (m *Manager) EnsureProvisioned(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	switch {
	case m.state == Ready:
		handle := m.handle
		m.mu.Unlock()
		return handle, nil
	case m.state == Provisioning:
		m.mu.Unlock()
		return nil, ErrNotReady
	case m.closed:
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.beginLocked()
	m.mu.Unlock()
	return m.provision(ctx)
}

// Trigger starts provisioning in the background if the environment is
// Uninitialized and returns the state as of the call: Provisioning if
// an attempt was started or is running, Ready if provisioning already
// completed.
func (m *Manager) Trigger() State {
	m.mu.Lock()
	if m.state != Uninitialized || m.closed {
		state := m.state
		m.mu.Unlock()
		return state
	}
	m.beginLocked()
	m.background.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.background.Done()
		if _, err := m.provision(m.backgroundCtx); err != nil {
			m.logger.Error("background provisioning failed", "error", err)
		}
	}()
	return Provisioning
}

// Wait blocks until no attempt is in flight and returns the handle, or
// the error of the attempt that just finished. It returns
// [ErrNotProvisioned] if no attempt has been made.
func (m *Manager) Wait(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	if m.state == Provisioning {
		settled := m.settled
		m.mu.Unlock()
		select {
		case <-settled:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m.mu.Lock()
	}
	defer m.mu.Unlock()

	switch {
	case m.state == Ready:
		return m.handle, nil
	case m.state == Provisioning:
		// A new attempt began between settling and relocking.
		return nil, ErrNotReady
	case m.lastErr != nil:
		return nil, m.lastErr
	default:
		return nil, ErrNotProvisioned
	}
}

// Close cancels any background attempt, waits for it to finish, and
// stops the node this manager launched. A node found running from a
// previous process is not touched.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.backgroundCancel()
	m.background.Wait()

	m.mu.Lock()
	node := m.node
	m.node = nil
	m.mu.Unlock()
	if node != nil {
		node.Stop(nodeStopGrace)
	}
}

// beginLocked moves Uninitialized to Provisioning. Caller holds m.mu.
func (m *Manager) beginLocked() {
	m.state = Provisioning
	m.settled = make(chan struct{})
	m.notifyState(Provisioning)
}

// provision runs one attempt and publishes its outcome. The caller has
// already moved the state to Provisioning.
func (m *Manager) provision(ctx context.Context) (*Handle, error) {
	started := time.Now()
	record, handle, node, err := m.attempt(ctx)
	duration := time.Since(started)

	var orphan Node
	m.mu.Lock()
	if err != nil {
		m.state = Uninitialized
		m.lastErr = err
	} else {
		m.state = Ready
		m.record = record
		m.handle = handle
		m.lastErr = nil
		if m.closed {
			// Close already ran and will not stop this node.
			orphan = node
		} else {
			m.node = node
		}
	}
	m.notifyState(m.state)
	close(m.settled)
	m.settled = nil
	m.mu.Unlock()

	if orphan != nil {
		orphan.Stop(nodeStopGrace)
	}

	if m.observer != nil {
		m.observer.ObserveProvisioning(duration, err)
	}
	if err != nil {
		return nil, err
	}
	m.logger.Info("environment provisioned",
		"challenge_address", record.ChallengeAddress,
		"player_address", handle.PlayerAddress,
		"duration", duration,
	)
	return handle, nil
}

// attempt provisions from scratch. On failure it stops any node it
// started and has persisted nothing.
func (m *Manager) attempt(ctx context.Context) (envrecord.Record, *Handle, Node, error) {
	mnemonic, err := m.newMnemonic()
	if err != nil {
		return envrecord.Record{}, nil, nil, fmt.Errorf("generating mnemonic: %w", err)
	}

	launchCtx, cancelLaunch := context.WithTimeout(ctx, m.startupTimeout)
	node, err := m.launcher.Launch(launchCtx, mnemonic)
	cancelLaunch()
	if err != nil {
		return envrecord.Record{}, nil, nil, fmt.Errorf("launching backend node: %w", err)
	}

	fail := func(err error) (envrecord.Record, *Handle, Node, error) {
		m.logger.Warn("provisioning failed, stopping backend node", "error", err)
		node.Stop(nodeStopGrace)
		return envrecord.Record{}, nil, nil, err
	}

	deployCtx, cancelDeploy := context.WithTimeout(ctx, m.deployTimeout)
	address, err := m.deployer.Deploy(deployCtx, node.URL(), m.projectDirectory, mnemonic)
	cancelDeploy()
	if err != nil {
		return fail(fmt.Errorf("deploying challenge: %w", err))
	}

	record := envrecord.Record{Mnemonic: mnemonic, ChallengeAddress: address}
	handle, err := NewHandle(record, m.rpcURL)
	if err != nil {
		return fail(err)
	}
	if err := m.store.Save(record); err != nil {
		return fail(fmt.Errorf("saving environment record: %w", err))
	}
	return record, handle, node, nil
}

// notifyState reports state to the observer. Callers hold m.mu so that
// reports arrive in transition order.
func (m *Manager) notifyState(state State) {
	if m.observer != nil {
		m.observer.ObserveState(state)
	}
}
