// File: internal/input/driver.go
package input

import (
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/go-vgo/robotgo"
)

// Driver is the low-level device boundary: pointer, keyboard, application
// launch. Production is robotgo-backed; tests script a fake. Implementations
// are not safe for concurrent use; the Executor serializes all access.
type Driver interface {
	// Glide moves the pointer to (x, y), taking at least the given duration.
	Glide(x, y int, duration time.Duration) error
	// Click presses the left button at the current pointer position.
	Click(double bool) error
	// TypeText types the payload with per-character pacing.
	TypeText(text string) error
	// TapKeys presses a chord: the last key with the rest held as modifiers.
	TapKeys(keys []string) error
	// Position reports the current pointer location.
	Position() (x, y int)
	// ScreenSize reports the primary display geometry.
	ScreenSize() (width, height int)
	// OpenApplication launches an application by name and detaches from it.
	OpenApplication(name string) error
}

// RobotDriver drives the real desktop through robotgo.
type RobotDriver struct{}

var _ Driver = (*RobotDriver)(nil)

func (RobotDriver) Glide(x, y int, duration time.Duration) error {
	start := time.Now()
	if ok := robotgo.MoveSmooth(x, y); !ok {
		return fmt.Errorf("pointer move to (%d, %d) failed", x, y)
	}
	// robotgo paces by speed factors, not wall time; sleep out the
	// remainder so the caller-visible glide takes the requested duration.
	if rest := duration - time.Since(start); rest > 0 {
		time.Sleep(rest)
	}
	return nil
}

func (RobotDriver) Click(double bool) error {
	robotgo.Click("left", double)
	return nil
}

func (RobotDriver) TypeText(text string) error {
	robotgo.TypeStr(text)
	return nil
}

func (RobotDriver) TapKeys(keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("empty key chord")
	}
	key := keys[len(keys)-1]
	mods := make([]interface{}, 0, len(keys)-1)
	for _, mod := range keys[:len(keys)-1] {
		mods = append(mods, mod)
	}
	return robotgo.KeyTap(key, mods...)
}

func (RobotDriver) Position() (int, int) {
	return robotgo.Location()
}

func (RobotDriver) ScreenSize() (int, int) {
	return robotgo.GetScreenSize()
}

// OpenApplication starts the application through the platform launcher and
// releases the process handle: the application outlives the action, so it
// must not be tied to a dispatch deadline.
func (RobotDriver) OpenApplication(name string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", "-a", name)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", name)
	default:
		cmd = exec.Command(name)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch %q: %w", name, err)
	}
	return cmd.Process.Release()
}
