package vdevice

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Pactl implements AudioServer by shelling out to pactl.
type Pactl struct {
	// Path to the pactl binary. Empty means look it up in PATH.
	Path string

	logger *slog.Logger
}

// NewPactl creates a pactl-backed AudioServer.
func NewPactl(logger *slog.Logger) *Pactl {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pactl{
		Path:   "pactl",
		logger: logger.With("component", "vdevice.pactl"),
	}
}

// Available reports whether pactl can be found.
func (p *Pactl) Available() bool {
	_, err := exec.LookPath(p.path())
	return err == nil
}

func (p *Pactl) path() string {
	if p.Path == "" {
		return "pactl"
	}
	return p.Path
}

// run executes pactl with a fixed C locale so output is parseable.
func (p *Pactl) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, p.path(), args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("pactl %s: %w: %s", args[0], err, msg)
		}
		if _, ok := err.(*exec.Error); ok {
			return "", fmt.Errorf("%w: %v", ErrServerUnavailable, err)
		}
		return "", fmt.Errorf("pactl %s: %w", args[0], err)
	}

	p.logger.Debug("pactl", "args", args)
	return stdout.String(), nil
}

// LoadModule loads a module and returns its index.
func (p *Pactl) LoadModule(ctx context.Context, name string, args ...string) (int, error) {
	out, err := p.run(ctx, append([]string{"load-module", name}, args...)...)
	if err != nil {
		return 0, err
	}
	idx, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("load-module %s: unexpected output %q", name, strings.TrimSpace(out))
	}
	return idx, nil
}

// UnloadModule unloads a module by index.
func (p *Pactl) UnloadModule(ctx context.Context, index int) error {
	_, err := p.run(ctx, "unload-module", strconv.Itoa(index))
	return err
}

// ListModules lists loaded modules.
func (p *Pactl) ListModules(ctx context.Context) ([]Module, error) {
	out, err := p.run(ctx, "list", "short", "modules")
	if err != nil {
		return nil, err
	}
	return parseModules(out), nil
}

// ListSources lists capture source names.
func (p *Pactl) ListSources(ctx context.Context) ([]string, error) {
	out, err := p.run(ctx, "list", "short", "sources")
	if err != nil {
		return nil, err
	}
	return parseShortNames(out), nil
}

// SetMute mutes or unmutes a sink or source.
func (p *Pactl) SetMute(ctx context.Context, kind Kind, name string, mute bool) error {
	v := "0"
	if mute {
		v = "1"
	}
	_, err := p.run(ctx, "set-"+kind.String()+"-mute", name, v)
	return err
}

// SetVolume sets a sink or source volume in percent.
func (p *Pactl) SetVolume(ctx context.Context, kind Kind, name string, percent int) error {
	_, err := p.run(ctx, "set-"+kind.String()+"-volume", name, strconv.Itoa(percent)+"%")
	return err
}

// ListSinkInputs lists active playback streams.
func (p *Pactl) ListSinkInputs(ctx context.Context) ([]SinkInput, error) {
	out, err := p.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, err
	}
	return parseSinkInputs(out), nil
}

// MoveSinkInput moves a playback stream onto sink.
func (p *Pactl) MoveSinkInput(ctx context.Context, index int, sink string) error {
	_, err := p.run(ctx, "move-sink-input", strconv.Itoa(index), sink)
	return err
}

// parseModules parses `pactl list short modules`: index, name, args.
func parseModules(out string) []Module {
	var mods []Module
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) < 2 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		m := Module{Index: idx, Name: strings.TrimSpace(fields[1])}
		if len(fields) == 3 {
			m.Args = strings.TrimSpace(fields[2])
		}
		mods = append(mods, m)
	}
	return mods
}

// parseShortNames returns the second column of a `pactl list short` listing.
func parseShortNames(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		names = append(names, fields[1])
	}
	return names
}

// parseSinkInputs parses `pactl list sink-inputs`. A header line carries
// "#<index>"; the owning process comes from application.process.id.
func parseSinkInputs(out string) []SinkInput {
	var inputs []SinkInput
	cur := -1

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if i := strings.LastIndex(line, "#"); i >= 0 && !strings.Contains(line, "=") {
			if idx, err := strconv.Atoi(line[i+1:]); err == nil {
				inputs = append(inputs, SinkInput{Index: idx})
				cur = len(inputs) - 1
			}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok || cur < 0 || strings.TrimSpace(key) != "application.process.id" {
			continue
		}
		if pid, err := strconv.Atoi(strings.Trim(strings.TrimSpace(value), `"`)); err == nil {
			inputs[cur].ProcessID = pid
		}
	}
	return inputs
}

// Verify Pactl implements AudioServer at compile time.
var _ AudioServer = (*Pactl)(nil)
