package tasks

import (
	"github.com/ricirt/taskdispatch/internal/dispatch"
)

// Register installs every handler on reg in a fixed order (user, task,
// notification) and fails if any dependency or handler is missing. Workers
// call it once at startup, before consuming.
func Register(reg *dispatch.Registry, deps Deps) error {
	if err := deps.validate(); err != nil {
		return err
	}
	h := newHandlers(deps)
	h.registerUser(reg)
	h.registerTodo(reg)
	h.registerNotification(reg)
	return reg.Require(All()...)
}
