package refcore

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"
)

// Options is the parsed subprocess command line.
type Options struct {
	TextureBuffer string
	CommandBuffer string
	RPCBuffer     string
	InputBuffer   string
	AudioBuffer   string
	SegmentDir    string

	ROMPath    string
	StatePath  string
	ConfigPath string
	ScriptPath string

	Headless              bool
	AcceptBackgroundInput bool
	Mute                  bool
	SuppressPopups        bool

	ParentPID  int
	FPS        int
	SampleRate int
	RPCTimeout time.Duration
}

// ParseArgs parses the launch flags. Every segment name is required.
func ParseArgs(args []string) (Options, error) {
	var o Options
	fs := flag.NewFlagSet("refcore", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&o.TextureBuffer, "texture-buffer", "", "pixel array segment name")
	fs.StringVar(&o.CommandBuffer, "command-buffer", "", "command queue segment name")
	fs.StringVar(&o.RPCBuffer, "rpc-buffer", "", "RPC segment name")
	fs.StringVar(&o.InputBuffer, "input-buffer", "", "input queue segment name")
	fs.StringVar(&o.AudioBuffer, "audio-buffer", "", "audio ring segment name")
	fs.StringVar(&o.SegmentDir, "segment-dir", "", "directory holding segment files")
	fs.StringVar(&o.ROMPath, "rom", "", "content to load")
	fs.StringVar(&o.StatePath, "load-state", "", "state to load after the content")
	fs.StringVar(&o.ConfigPath, "config", "", "core configuration file")
	fs.StringVar(&o.ScriptPath, "lua", "", "auxiliary Lua script")
	fs.BoolVar(&o.Headless, "headless", false, "run without a window")
	fs.BoolVar(&o.AcceptBackgroundInput, "accept-background-input", false, "accept input while unfocused")
	fs.BoolVar(&o.Mute, "mute", false, "produce silence")
	fs.BoolVar(&o.SuppressPopups, "suppress-popups", false, "never show dialogs")
	fs.IntVar(&o.ParentPID, "parent-pid", 0, "exit when this process goes away")
	fs.IntVar(&o.FPS, "fps", 60, "frames per second")
	fs.IntVar(&o.SampleRate, "sample-rate", 44100, "native audio sample rate")
	fs.DurationVar(&o.RPCTimeout, "rpc-timeout", 50*time.Millisecond, "timeout for calls to the host")

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	if fs.NArg() > 0 {
		return Options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	var missing []string
	for _, f := range []struct{ name, v string }{
		{"texture-buffer", o.TextureBuffer},
		{"command-buffer", o.CommandBuffer},
		{"rpc-buffer", o.RPCBuffer},
		{"input-buffer", o.InputBuffer},
		{"audio-buffer", o.AudioBuffer},
	} {
		if f.v == "" {
			missing = append(missing, "--"+f.name)
		}
	}
	if len(missing) > 0 {
		return Options{}, fmt.Errorf("missing %v", missing)
	}
	if o.FPS <= 0 || o.SampleRate <= 0 {
		return Options{}, errors.New("fps and sample-rate must be positive")
	}
	return o, nil
}
