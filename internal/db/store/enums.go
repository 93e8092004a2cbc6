package store

// AutonomyLevel controls whether tasks assigned to an agent are approval-gated.
type AutonomyLevel string

const (
	AutonomyFull             AutonomyLevel = "full"
	AutonomySupervised       AutonomyLevel = "supervised"
	AutonomyApprovalRequired AutonomyLevel = "approval_required"
)

func (a AutonomyLevel) Valid() bool {
	switch a {
	case AutonomyFull, AutonomySupervised, AutonomyApprovalRequired:
		return true
	}
	return false
}

type RelationshipType string

const (
	RelSupervises       RelationshipType = "supervises"
	RelDelegatesTo      RelationshipType = "delegates_to"
	RelCollaboratesWith RelationshipType = "collaborates_with"
	RelReportsTo        RelationshipType = "reports_to"
	RelConsults         RelationshipType = "consults"
)

func (r RelationshipType) Valid() bool {
	switch r {
	case RelSupervises, RelDelegatesTo, RelCollaboratesWith, RelReportsTo, RelConsults:
		return true
	}
	return false
}

// CanDelegate reports whether an edge of this type permits creating subtasks
// for its target.
func (r RelationshipType) CanDelegate() bool {
	switch r {
	case RelSupervises, RelDelegatesTo:
		return true
	case RelCollaboratesWith, RelReportsTo, RelConsults:
		return false
	}
	return false
}

// CanEscalate reports whether an escalation may travel along this edge.
func (r RelationshipType) CanEscalate() bool {
	switch r {
	case RelSupervises, RelReportsTo:
		return true
	case RelDelegatesTo, RelCollaboratesWith, RelConsults:
		return false
	}
	return false
}

type CommunicationStyle string

const (
	StyleSync      CommunicationStyle = "sync"
	StyleAsync     CommunicationStyle = "async"
	StyleBroadcast CommunicationStyle = "broadcast"
)

func (s CommunicationStyle) Valid() bool {
	switch s {
	case StyleSync, StyleAsync, StyleBroadcast:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskPending          TaskStatus = "pending"
	TaskApproved         TaskStatus = "approved"
	TaskRunning          TaskStatus = "running"
	TaskAwaitingResponse TaskStatus = "awaiting_response"
	TaskCompleted        TaskStatus = "completed"
	TaskFailed           TaskStatus = "failed"
	TaskCancelled        TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskApproved, TaskRunning, TaskAwaitingResponse,
		TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	case TaskPending, TaskApproved, TaskRunning, TaskAwaitingResponse:
		return false
	}
	return false
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityNormal TaskPriority = "normal"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type StepType string

const (
	StepDispatched        StepType = "dispatched"
	StepMemoryRecall      StepType = "memory_recall"
	StepExecuting         StepType = "executing"
	StepSkillCall         StepType = "skill_call"
	StepDelegated         StepType = "delegated"
	StepApprovalRequested StepType = "approval_requested"
	StepApprovalGranted   StepType = "approval_granted"
	StepCompleted         StepType = "completed"
	StepFailed            StepType = "failed"
	StepCancelled         StepType = "cancelled"
)

func (s StepType) Valid() bool {
	switch s {
	case StepDispatched, StepMemoryRecall, StepExecuting, StepSkillCall, StepDelegated,
		StepApprovalRequested, StepApprovalGranted, StepCompleted, StepFailed, StepCancelled:
		return true
	}
	return false
}

type MessageType string

const (
	MsgRequest         MessageType = "request"
	MsgResponse        MessageType = "response"
	MsgHandoff         MessageType = "handoff"
	MsgEscalation      MessageType = "escalation"
	MsgUpdate          MessageType = "update"
	MsgQuestion        MessageType = "question"
	MsgApprovalRequest MessageType = "approval_request"
)

func (m MessageType) Valid() bool {
	switch m {
	case MsgRequest, MsgResponse, MsgHandoff, MsgEscalation, MsgUpdate, MsgQuestion, MsgApprovalRequest:
		return true
	}
	return false
}

type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialExpired CredentialStatus = "expired"
	CredentialRevoked CredentialStatus = "revoked"
)

type InstanceStatus string

const (
	InstanceProvisioning InstanceStatus = "provisioning"
	InstanceRunning      InstanceStatus = "running"
	InstanceStopped      InstanceStatus = "stopped"
	InstanceUpgrading    InstanceStatus = "upgrading"
	InstanceError        InstanceStatus = "error"
	InstanceDestroying   InstanceStatus = "destroying"
)

func (s InstanceStatus) Valid() bool {
	switch s {
	case InstanceProvisioning, InstanceRunning, InstanceStopped, InstanceUpgrading, InstanceError, InstanceDestroying:
		return true
	}
	return false
}
