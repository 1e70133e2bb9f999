package vdevice

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// FakeServer is an in-memory AudioServer for tests.
type FakeServer struct {
	// LoadErr fails LoadModule for the named module.
	LoadErr map[string]error

	// ListErr fails ListModules.
	ListErr error

	// HideSources makes ListSources report nothing.
	HideSources bool

	mu      sync.Mutex
	next    int
	modules []Module
	mute    map[string]bool
	volume  map[string]int
	inputs  []SinkInput
	moves   []Move
}

// Move records one MoveSinkInput call.
type Move struct {
	Index int
	Sink  string
}

// NewFakeServer creates an empty FakeServer. Module indexes start at 100.
func NewFakeServer() *FakeServer {
	return &FakeServer{
		LoadErr: make(map[string]error),
		next:    100,
		mute:    make(map[string]bool),
		volume:  make(map[string]int),
	}
}

// LoadModule records a module and returns its index.
func (f *FakeServer) LoadModule(ctx context.Context, name string, args ...string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.LoadErr[name]; err != nil {
		return 0, err
	}
	idx := f.next
	f.next++
	f.modules = append(f.modules, Module{Index: idx, Name: name, Args: strings.Join(args, " ")})

	// New objects start muted at a low level.
	for _, obj := range objectNames(name, args) {
		f.mute[obj] = true
		f.volume[obj] = 40
	}
	return idx, nil
}

// SetLoadErr makes LoadModule fail for name. A nil err clears it.
func (f *FakeServer) SetLoadErr(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.LoadErr, name)
		return
	}
	f.LoadErr[name] = err
}

// UnloadModule removes a module.
func (f *FakeServer) UnloadModule(ctx context.Context, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, m := range f.modules {
		if m.Index == index {
			f.modules = slices.Delete(f.modules, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("fake: no module %d", index)
}

// ListModules returns loaded modules in load order.
func (f *FakeServer) ListModules(ctx context.Context) ([]Module, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return slices.Clone(f.modules), nil
}

// ListSources returns remap sources and sink monitors.
func (f *FakeServer) ListSources(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.HideSources {
		return nil, nil
	}
	var names []string
	for _, m := range f.modules {
		switch m.Name {
		case "module-remap-source":
			names = append(names, argValue(m.Args, "source_name"))
		case "module-null-sink":
			names = append(names, argValue(m.Args, "sink_name")+".monitor")
		}
	}
	return names, nil
}

// SetMute records the mute state.
func (f *FakeServer) SetMute(ctx context.Context, kind Kind, name string, mute bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mute[name] = mute
	return nil
}

// SetVolume records the volume.
func (f *FakeServer) SetVolume(ctx context.Context, kind Kind, name string, percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume[name] = percent
	return nil
}

// ListSinkInputs returns streams added with AddSinkInput.
func (f *FakeServer) ListSinkInputs(ctx context.Context) ([]SinkInput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.inputs), nil
}

// MoveSinkInput records the move.
func (f *FakeServer) MoveSinkInput(ctx context.Context, index int, sink string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, Move{Index: index, Sink: sink})
	return nil
}

// AddSinkInput registers an active playback stream.
func (f *FakeServer) AddSinkInput(in SinkInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
}

// Modules returns a snapshot of loaded modules.
func (f *FakeServer) Modules() []Module {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.modules)
}

// Moves returns recorded MoveSinkInput calls.
func (f *FakeServer) Moves() []Move {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.moves)
}

// Level returns mute state and volume for a sink or source name.
func (f *FakeServer) Level(name string) (muted bool, percent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mute[name], f.volume[name]
}

func objectNames(module string, args []string) []string {
	joined := strings.Join(args, " ")
	switch module {
	case "module-null-sink":
		return []string{argValue(joined, "sink_name")}
	case "module-remap-source":
		return []string{argValue(joined, "source_name")}
	}
	return nil
}

func argValue(args, key string) string {
	for _, f := range strings.Fields(args) {
		if v, ok := strings.CutPrefix(f, key+"="); ok {
			return v
		}
	}
	return ""
}

// Verify FakeServer implements AudioServer at compile time.
var _ AudioServer = (*FakeServer)(nil)
