package relay

import (
	"github.com/mindcare-platform/chat-relay/internal/model"
)

// actionRoles is the single declarative permission table, evaluated once per
// inbound event before dispatch. A nil role set means any connection may
// perform the action, anonymous ones included.
var actionRoles = map[model.EventType][]model.Role{
	model.EventJoinSession:       nil,
	model.EventSendMessage:       nil,
	model.EventRequestEscalation: nil,
	model.EventCloseSession:      nil,
	model.EventStaffJoinSession:  {model.RoleAdmin, model.RoleStaff, model.RolePsikolog},
}

// Allowed reports whether the role may perform the action. Unknown actions
// are denied.
func Allowed(action model.EventType, role model.Role) bool {
	roles, ok := actionRoles[action]
	if !ok {
		return false
	}
	if roles == nil {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
