package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/user-none/emubridge/config"
	"github.com/user-none/emubridge/shm"
)

// Process-wide state shared by every controller. Session ids only need to
// differ between concurrent sessions, including sessions of other host
// processes using the same segment directory, so the counter starts at a
// random point.
var (
	runtimeOnce sync.Once
	sessionIDs  atomic.Uint32
)

func ensureRuntime() {
	runtimeOnce.Do(func() {
		sessionIDs.Store(uuid.New().ID() >> 1)
	})
}

func nextSessionID() uint32 {
	ensureRuntime()
	for {
		if id := sessionIDs.Add(1); id != 0 {
			return id
		}
	}
}

// Segment roles.
const (
	roleTexture = "texture"
	roleCommand = "command"
	roleRPC     = "rpc"
	roleInput   = "input"
	roleAudio   = "audio"
)

func segmentName(role string, id uint32) string {
	return role + "-" + strconv.FormatUint(uint64(id), 10)
}

func textureName(id uint32, sub int) string {
	return segmentName(roleTexture, id) + "-" + strconv.Itoa(sub)
}

// removeSegments unlinks every segment file of session id. The core owns
// them but cannot clean up after being killed.
func removeSegments(dir string, id uint32, texSub int) error {
	names := []string{
		segmentName(roleCommand, id),
		segmentName(roleRPC, id),
		segmentName(roleInput, id),
		segmentName(roleAudio, id),
	}
	for i := 0; i <= texSub; i++ {
		names = append(names, textureName(id, i))
	}
	var errs []error
	for _, n := range names {
		if err := os.Remove(shm.Path(dir, n)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// segmentDir returns the configured segment directory or the platform
// default.
func segmentDir(lc config.LaunchConfig) string {
	if lc.SegmentDir != "" {
		return lc.SegmentDir
	}
	return shm.DefaultDir()
}

// prepareDirs creates the directories a session writes to.
func prepareDirs(dirs ...string) error {
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}

// buildArgs computes the subprocess command line for one session.
func buildArgs(lc config.LaunchConfig, id uint32, texSub int, parentPID int) []string {
	args := []string{
		"--texture-buffer", textureName(id, texSub),
		"--command-buffer", segmentName(roleCommand, id),
		"--rpc-buffer", segmentName(roleRPC, id),
		"--input-buffer", segmentName(roleInput, id),
		"--audio-buffer", segmentName(roleAudio, id),
		"--segment-dir", segmentDir(lc),
	}
	for _, f := range []struct{ flag, path string }{
		{"--rom", lc.Core.ROMPath},
		{"--load-state", lc.Core.StatePath},
		{"--config", lc.Core.ConfigPath},
		{"--lua", lc.Core.ScriptPath},
	} {
		if f.path != "" {
			args = append(args, f.flag, absPath(f.path))
		}
	}
	for _, f := range []struct {
		flag string
		on   bool
	}{
		{"--headless", lc.Core.Headless},
		{"--accept-background-input", lc.Core.AcceptBackgroundInput},
		{"--mute", lc.Core.Mute},
		{"--suppress-popups", lc.Core.SuppressPopups},
	} {
		if f.on {
			args = append(args, f.flag)
		}
	}
	if parentPID > 0 {
		args = append(args, "--parent-pid", strconv.Itoa(parentPID))
	}
	return args
}
