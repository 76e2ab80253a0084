package load

import (
	sessionload "github.com/skudasov/sessionload"
)

// CheckFromName returns custom runtime checks, nil falls back to stop_if checks of the suite config.
func CheckFromName(name string) sessionload.RuntimeCheckFunc {
	switch name {
	default:
		return nil
	}
}
