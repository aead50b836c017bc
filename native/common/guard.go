package common

import "errors"

// ErrModulePaused is returned by Guard when operators have halted a module.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the operator-controlled pause switches for native modules.
type PauseView interface {
	IsPaused(module string) bool
}

// StaticPauseView is a fixed pause map, useful for tests and static
// deployments without an operator control plane.
type StaticPauseView map[string]bool

// IsPaused reports whether the module is paused in the static map.
func (s StaticPauseView) IsPaused(module string) bool { return s[module] }

// Guard rejects the call when the named module is paused. A nil view means no
// pause control is wired and every call is allowed.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
