package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os/exec"
	"strings"
	"time"

	"visualMem/core"
)

// FrameSource 按需产出一帧屏幕截图
type FrameSource interface {
	Capture(ctx context.Context) (*core.RawFrame, error)
}

// CommandSource runs a configured screenshot command that writes one encoded
// image to stdout (e.g. "screencapture -x -t jpg -" on macOS, or a grim/maim
// invocation on Linux). The OS capture mechanism itself stays outside this
// process.
type CommandSource struct {
	command string
}

func NewCommandSource(command string) *CommandSource {
	return &CommandSource{command: command}
}

func (s *CommandSource) Capture(ctx context.Context) (*core.RawFrame, error) {
	parts := strings.Fields(s.command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("capture command not configured")
	}
	ts := time.Now().UTC()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("capture command failed: %w", err)
	}

	img, _, err := image.Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("decode captured image: %w", err)
	}
	return &core.RawFrame{Image: img, Timestamp: ts}, nil
}
