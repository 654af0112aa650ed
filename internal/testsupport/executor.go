package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FakeExecutor stands in for ffmpeg and ffprobe in tests. It fabricates the
// output files an invocation would produce and records every call. Stages
// can be forced to fail by name.
type FakeExecutor struct {
	// ProbeJSON is returned for ffprobe invocations. Defaults to a 1080p
	// h264/aac source when empty.
	ProbeJSON string

	mu       sync.Mutex
	calls    [][]string
	failures map[string]error
	gates    map[string]*stageGate
}

type stageGate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

const defaultProbeJSON = `{
    "streams": [
        {"codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080},
        {"codec_name": "aac", "codec_type": "audio"}
    ],
    "format": {"format_name": "mov,mp4,m4a", "duration": "42.5", "size": "2097152"}
}`

// FailStage forces the named stage to fail. Recognized names: probe,
// thumbnail, preview, rendition, segment.
func (f *FakeExecutor) FailStage(stage string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures == nil {
		f.failures = make(map[string]error)
	}
	f.failures[stage] = err
}

// BlockStage parks invocations of the named stage until the returned
// release func is called or the invocation context ends. The entered
// channel closes when the stage is first reached, so tests can interleave
// work with a stage that is provably in flight.
func (f *FakeExecutor) BlockStage(stage string) (entered <-chan struct{}, release func()) {
	gate := &stageGate{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f.mu.Lock()
	if f.gates == nil {
		f.gates = make(map[string]*stageGate)
	}
	f.gates[stage] = gate
	f.mu.Unlock()

	var releaseOnce sync.Once
	return gate.entered, func() {
		releaseOnce.Do(func() { close(gate.release) })
	}
}

// Calls returns a copy of the recorded invocations.
func (f *FakeExecutor) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([][]string, len(f.calls))
	copy(calls, f.calls)
	return calls
}

// StageCalls returns how many recorded invocations belong to the named stage.
func (f *FakeExecutor) StageCalls(stage string) int {
	count := 0
	for _, call := range f.Calls() {
		if classifyCall(call[0], call[1:]) == stage {
			count++
		}
	}
	return count
}

// Run fabricates the invocation's outputs, honoring forced failures.
func (f *FakeExecutor) Run(ctx context.Context, binary string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage := classifyCall(binary, args)

	f.mu.Lock()
	f.calls = append(f.calls, append([]string{binary}, args...))
	forced := f.failures[stage]
	gate := f.gates[stage]
	probeJSON := f.ProbeJSON
	f.mu.Unlock()

	if gate != nil {
		gate.once.Do(func() { close(gate.entered) })
		select {
		case <-gate.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if forced != nil {
		return []byte(stage + " exploded"), forced
	}

	switch stage {
	case "probe":
		if probeJSON == "" {
			probeJSON = defaultProbeJSON
		}
		return []byte(probeJSON), nil
	case "segment":
		return nil, fabricateHLS(args)
	default:
		return nil, fabricateFile(lastArg(args))
	}
}

func classifyCall(binary string, args []string) string {
	if strings.Contains(binary, "ffprobe") {
		return "probe"
	}
	joined := " " + strings.Join(args, " ") + " "
	switch {
	case strings.Contains(joined, " -hls_time "):
		return "segment"
	case strings.Contains(joined, " -vframes "):
		return "thumbnail"
	case strings.Contains(joined, "lanczos"):
		return "preview"
	default:
		return "rendition"
	}
}

func fabricateHLS(args []string) error {
	playlist := lastArg(args)
	if err := fabricateFile(playlist); err != nil {
		return err
	}
	segment := filepath.Join(filepath.Dir(playlist), "segment_0.ts")
	return fabricateFile(segment)
}

func fabricateFile(path string) error {
	if path == "" {
		return fmt.Errorf("no output path in args")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("fabricated"), 0o644)
}

func lastArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[len(args)-1]
}
