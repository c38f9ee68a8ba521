package module

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/hostprobe/hostprobe/pkg/options"
)

// EnvAllowList is the fixed set of host-fact variables a module execution
// inherits, in addition to PATH. Everything else in the parent environment is
// withheld.
var EnvAllowList = []string{
	"PATH",
	"HOSTPROBE_WORKDIR",
	"HOSTPROBE_RUNDIR",
	"HOSTPROBE_LOGDIR",
	"HOSTPROBE_GATHEREDDIR",
	"HOSTPROBE_DISTRO",
	"HOSTPROBE_NET_DRIVER",
	"HOSTPROBE_VIRT_TYPE",
	"HOSTPROBE_SUDO",
	"HOSTPROBE_PERFIMPACT",
	"HOSTPROBE_CALLPATH",
}

// pythonInterpreter executes python module content. Modules target the
// system python3 rather than any embedded runtime.
const pythonInterpreter = "python3"

// Run executes the module's content as a child process and blocks until it
// exits. The process sees a restricted environment: the allow-listed host
// facts, then global options, then per-module options, with per-module values
// winning on conflict. On a zero exit the combined output is parsed into the
// module's verdict and returned; on a non-zero exit a RunFailureError
// carrying the captured output is returned and no verdict is recorded.
//
// The context cancels a process that has not finished; there is no
// per-module timeout beyond what the caller's context imposes.
func (m *Module) Run(ctx context.Context, opts *options.Options) (string, error) {
	env := make(map[string]string, len(EnvAllowList))
	for _, key := range EnvAllowList {
		env[key] = os.Getenv(key)
	}

	if opts != nil {
		for key, value := range opts.GlobalArgs {
			env[key] = value
		}
		for key, value := range opts.ModuleArgs(m.Name) {
			// Per-module values are more specific than globals.
			env[key] = value
		}
	}

	var command []string
	switch m.Language {
	case LanguageBinary:
		command = []string{filepath.Join(env["HOSTPROBE_CALLPATH"], "bin", m.PlacementDir(), m.Name)}
	case LanguageBash, LanguagePython:
		file, err := os.CreateTemp("", "hostprobe-module-*")
		if err != nil {
			return "", fmt.Errorf("failed to stage module content: %w", err)
		}
		// The staged content must not outlive the run on any path.
		defer os.Remove(file.Name())

		if _, err := file.WriteString(m.Content); err != nil {
			file.Close()
			return "", fmt.Errorf("failed to stage module content: %w", err)
		}
		if err := file.Close(); err != nil {
			return "", fmt.Errorf("failed to stage module content: %w", err)
		}

		if m.Language == LanguageBash {
			command = []string{"/bin/bash", file.Name()}
		} else {
			command = []string{pythonInterpreter, file.Name()}
		}
	default:
		return "", &UnsupportedLanguageError{Name: m.Name, Language: string(m.Language)}
	}

	log.Debug().
		Str("module", m.Name).
		Str("placement", string(m.Placement)).
		Strs("command", command).
		Msg("Executing module")

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Env = flattenEnv(env)

	output, err := cmd.CombinedOutput()
	m.ProcessOutput = string(output)
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return "", &RunFailureError{
			Name:      m.Name,
			Placement: m.Placement,
			ExitCode:  exitCode,
			Output:    m.ProcessOutput,
		}
	}

	m.parseOutput(m.ProcessOutput)
	return m.ProcessOutput, nil
}

// flattenEnv renders the environment map in the KEY=value form expected by
// os/exec, sorted for reproducible process spawns.
func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for key, value := range env {
		out = append(out, key+"="+value)
	}
	sort.Strings(out)
	return out
}
