package models

// appointment record origins
const (
	OriginPortal   = "PORTAL"
	OriginCalendar = "CALENDAR"
)

// normalized appointment statuses
const (
	AppointmentStatusConfirmed = "CONFIRMED"
	AppointmentStatusCancelled = "CANCELLED"
)

// matcher classifications
const (
	ClassificationNew               = "NEW"
	ClassificationUnchanged         = "UNCHANGED"
	ClassificationModified          = "MODIFIED"
	ClassificationRemoved           = "REMOVED"
	ClassificationExternallyDeleted = "EXTERNALLY_DELETED"
)

// plan actions
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionSkip   = "SKIP"
)

// conflict resolutions
const (
	ResolutionPortalWins           = "PORTAL_WINS"
	ResolutionManualReviewRequired = "MANUAL_REVIEW_REQUIRED"
)

// conflict origin pairings
const (
	ConflictKindPortalPortal   = "PORTAL_PORTAL"
	ConflictKindPortalCalendar = "PORTAL_CALENDAR"
)

// sync task states
const (
	TaskStatusPending   = "PENDING"
	TaskStatusInFlight  = "IN_FLIGHT"
	TaskStatusRetryWait = "RETRY_WAIT"
	TaskStatusFailed    = "FAILED"
	TaskStatusDone      = "DONE"
)

// sync run statuses
const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusAborted   = "ABORTED"
)

// sync run triggers
const (
	TriggerScheduled = "SCHEDULED"
	TriggerManual    = "MANUAL"
	TriggerCLI       = "CLI"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "Admin"
	UserRoleOperator UserRole = "Operator"
)
