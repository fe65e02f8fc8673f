package tracker

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Window is the foreground window as reported by the OS. A zero Window means
// no foreground window.
type Window struct {
	Application string `json:"application"`
	Title       string `json:"title"`
}

type WindowSource interface {
	Active(ctx context.Context) (Window, error)
}

// IdleSource reports how long the OS has seen no input.
type IdleSource interface {
	Idle(ctx context.Context) (time.Duration, error)
}

const commandTimeout = 2 * time.Second

func runCommand(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("no command configured")
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", argv[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CommandWindowSource runs a command printing the foreground window title.
// With AppCommand set, its output names the application; otherwise the
// application is taken from the title suffix after the last " - ".
type CommandWindowSource struct {
	TitleCommand []string
	AppCommand   []string
}

func (s CommandWindowSource) Active(ctx context.Context) (Window, error) {
	title, err := runCommand(ctx, s.TitleCommand)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// xdotool exits non-zero when nothing has focus.
			return Window{}, nil
		}
		return Window{}, err
	}
	w := Window{Title: title}
	if len(s.AppCommand) > 0 {
		if w.Application, err = runCommand(ctx, s.AppCommand); err != nil {
			return Window{}, err
		}
		return w, nil
	}
	w.Application = applicationFromTitle(title)
	return w, nil
}

func applicationFromTitle(title string) string {
	title = strings.TrimSpace(title)
	for _, sep := range []string{" - ", " | "} {
		if i := strings.LastIndex(title, sep); i >= 0 {
			return strings.TrimSpace(title[i+len(sep):])
		}
	}
	return title
}

// CommandIdleSource runs a command printing idle milliseconds (xprintidle).
type CommandIdleSource struct {
	Command []string
}

func (s CommandIdleSource) Idle(ctx context.Context) (time.Duration, error) {
	out, err := runCommand(ctx, s.Command)
	if err != nil {
		return 0, err
	}
	ms, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse idle output %q: %w", out, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
