package model

// InstanceAction identifies a lifecycle action requested against an instance.
type InstanceAction string

const (
	ActionStart     InstanceAction = "start"
	ActionStop      InstanceAction = "stop"
	ActionRestart   InstanceAction = "restart"
	ActionUpdate    InstanceAction = "update"
	ActionBackup    InstanceAction = "backup"
	ActionRestore   InstanceAction = "restore"
	ActionSuspend   InstanceAction = "suspend"
	ActionUnsuspend InstanceAction = "unsuspend"
	ActionUnpause   InstanceAction = "unpause"
	ActionTerminate InstanceAction = "terminate"
)

// allowedActions maps each instance status to the actions accepted in that
// status. A status absent from the map accepts nothing; terminated is
// absorbing. Transitional statuses (starting, stopping, ...) accept nothing
// so that concurrent operations on the same instance serialize on status.
var allowedActions = map[string]map[InstanceAction]bool{
	InstanceStatusRunning: {
		ActionStop: true, ActionRestart: true, ActionUpdate: true,
		ActionBackup: true, ActionSuspend: true, ActionTerminate: true,
	},
	InstanceStatusStopped: {
		ActionStart: true, ActionBackup: true, ActionRestore: true,
		ActionSuspend: true, ActionTerminate: true,
	},
	InstanceStatusError: {
		ActionStart: true, ActionRestart: true, ActionBackup: true,
		ActionRestore: true, ActionSuspend: true, ActionTerminate: true,
	},
	InstanceStatusPaused: {
		ActionUnpause: true, ActionUnsuspend: true, ActionTerminate: true,
	},
	InstanceStatusContainerMissing: {
		ActionRestart: true, ActionTerminate: true,
	},
}

// ActionAllowed reports whether action is permitted for an instance in the
// given status. Disallowed actions are rejected synchronously before any
// side effect.
func ActionAllowed(status string, action InstanceAction) bool {
	return allowedActions[status][action]
}

// KnownAction reports whether the action name is recognized at all.
func KnownAction(action InstanceAction) bool {
	switch action {
	case ActionStart, ActionStop, ActionRestart, ActionUpdate, ActionBackup,
		ActionRestore, ActionSuspend, ActionUnsuspend, ActionUnpause, ActionTerminate:
		return true
	}
	return false
}
