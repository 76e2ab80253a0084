package load

import (
	sessionload "github.com/skudasov/sessionload"
)

func AttackerFromName(name string) sessionload.Attack {
	switch name {
	case SessionLabel:
		return sessionload.WithCSVMonitor(sessionload.WithMonitor(sessionload.NewHTTPUser(sessionload.MustTaskSet(SessionTasks()...), SessionPacing)))
	default:
		return nil
	}
}
