// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package forge deploys the challenge project to the backend node by
// running its Foundry deployment script.
//
// The deployment script derives its own keys from the MNEMONIC
// environment variable and writes the deployed challenge address to the
// file named by OUTPUT_FILE. The deployer broadcasts as the system
// account (m/44'/60'/0'/0/0) with --unlocked, so auto-impersonation is
// switched on at the node for the duration of the run.
package forge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/bureau-foundation/anvilgate/lib/wallet"
)

// Defaults applied by NewDeployer.
const (
	DefaultBinary = "forge"
	DefaultScript = "script/Deploy.s.sol:Deploy"
)

// outputTailBytes bounds how much script output is quoted in errors.
const outputTailBytes = 4096

// Config configures a Deployer.
type Config struct {
	// Binary is the forge executable. Defaults to "forge" on PATH.
	Binary string

	// Script is the deployment script target, relative to the project
	// directory.
	Script string

	// Logger receives deployment progress.
	Logger *slog.Logger
}

// Deployer runs deployment scripts.
type Deployer struct {
	binary string
	script string
	logger *slog.Logger
}

// NewDeployer returns a deployer for config.
func NewDeployer(config Config) *Deployer {
	if config.Binary == "" {
		config.Binary = DefaultBinary
	}
	if config.Script == "" {
		config.Script = DefaultScript
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Deployer{
		binary: config.Binary,
		script: config.Script,
		logger: config.Logger,
	}
}

// Deploy runs the deployment script of the project at projectDirectory
// against the node at rpcURL and returns the checksummed address of the
// deployed challenge.
func (d *Deployer) Deploy(ctx context.Context, rpcURL, projectDirectory, mnemonic string) (string, error) {
	system, err := wallet.DeriveAccount(mnemonic, wallet.SystemAccountIndex)
	if err != nil {
		return "", fmt.Errorf("deriving system account: %w", err)
	}

	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return "", fmt.Errorf("dialing node %s: %w", rpcURL, err)
	}
	defer client.Close()

	if err := client.CallContext(ctx, nil, "anvil_autoImpersonateAccount", true); err != nil {
		return "", fmt.Errorf("enabling account impersonation: %w", err)
	}
	defer func() {
		// The node must stop accepting unsigned transactions even when
		// the caller's context is already gone.
		disableCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := client.CallContext(disableCtx, nil, "anvil_autoImpersonateAccount", false); err != nil {
			d.logger.Error("disabling account impersonation", "error", err)
		}
	}()

	outputFile, err := os.CreateTemp("", "anvilgate-deploy-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating deployment output file: %w", err)
	}
	outputPath := outputFile.Name()
	outputFile.Close()
	defer os.Remove(outputPath)

	command := exec.CommandContext(ctx, d.binary,
		"script",
		"--rpc-url", rpcURL,
		"--broadcast",
		"--unlocked",
		"--sender", system.Address.Hex(),
		d.script,
	)
	command.Dir = projectDirectory
	command.Env = append(sanitizedEnvironment(),
		"MNEMONIC="+mnemonic,
		"OUTPUT_FILE="+outputPath,
	)
	var output bytes.Buffer
	command.Stdout = &output
	command.Stderr = &output

	d.logger.Info("deploying challenge",
		"project", projectDirectory,
		"script", d.script,
		"sender", system.Address.Hex(),
	)
	started := time.Now()
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("running %s script: %w\n%s", d.binary, err, tail(output.Bytes()))
	}
	d.logger.Debug("deployment script output", "output", output.String())

	written, err := os.ReadFile(outputPath)
	if err != nil {
		return "", fmt.Errorf("reading deployment output: %w", err)
	}
	address := strings.TrimSpace(string(written))
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("deployment script wrote %q, want a contract address", address)
	}

	checksummed := common.HexToAddress(address).Hex()
	d.logger.Info("challenge deployed", "address", checksummed, "duration", time.Since(started))
	return checksummed, nil
}

// sanitizedEnvironment returns the minimal set of variables forge needs
// to run. The gateway's own environment (flag, fork URL credentials) is
// never passed to the deployment script.
func sanitizedEnvironment() []string {
	safeVariables := []string{
		"PATH",
		"HOME",
		"USER",
		"LANG",
		"LC_ALL",
		"TZ",
		"TMPDIR",
		"FOUNDRY_PROFILE",
	}

	var environment []string
	for _, name := range safeVariables {
		if value := os.Getenv(name); value != "" {
			environment = append(environment, name+"="+value)
		}
	}
	return environment
}

func tail(output []byte) string {
	if len(output) > outputTailBytes {
		output = output[len(output)-outputTailBytes:]
	}
	return string(output)
}
