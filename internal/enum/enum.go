package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	PaymentStatusUnpaid  = "UNPAID"
	PaymentStatusPartial = "PARTIAL"
	PaymentStatusPaid    = "PAID"
)

const (
	ItemStatusPending        = "PENDING"
	ItemStatusInProgress     = "IN_PROGRESS"
	ItemStatusReadyForPickup = "READY_FOR_PICKUP"
	ItemStatusCompleted      = "COMPLETED"
)

const (
	StageOpen      = "OPEN"
	StageDraft     = "DRAFT"
	StageConverted = "CONVERTED"
	StageCompleted = "COMPLETED"
)

// Queued operations only live on the desk client, never in the DB.
const (
	QueueStatusPending      = "PENDING"
	QueueStatusProcessing   = "PROCESSING"
	QueueStatusAcknowledged = "ACKNOWLEDGED"
	QueueStatusFailed       = "FAILED"
)

// ── Group C: Borderline (CHECK constrained in DB) ──

const (
	OperatorRoleOwner   = "OWNER"
	OperatorRoleManager = "MANAGER"
	OperatorRoleStaff   = "STAFF"
)

// ── Group B: Configurable labels (no DB constraint) ──

const (
	DiscountTypePercentage = "PERCENTAGE"
	DiscountTypeFixed      = "FIXED_AMOUNT"
)

const (
	ResourceOrders = "orders"

	ActionArchive   = "archive"
	ActionUnarchive = "unarchive"
)

const (
	EventOrderCreated = "order.created"
	EventOrderUpdated = "order.updated"
	EventOrderDeleted = "order.deleted"
	EventLockAcquired = "lock.acquired"
	EventLockReleased = "lock.released"
)
