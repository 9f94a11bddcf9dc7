package entity

import "time"

type NotificationKind string

const (
	NotificationReminder    NotificationKind = "reminder"
	NotificationAlert       NotificationKind = "alert"
	NotificationInfo        NotificationKind = "info"
	NotificationAppointment NotificationKind = "appointment"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// NotificationItem is an outbound message produced by booking, cancellation
// and promotion events. Attempts counts failed delivery tries.
type NotificationItem struct {
	ID            string
	RecipientID   string
	RecipientRole Role
	Kind          NotificationKind
	Message       string
	CreatedAt     time.Time
	Delivered     bool
	Attempts      int
}
