package domain

import "time"

// Resource is a person who owns work items and receives alerts.
// BackupResourceID and ManagerID feed escalation levels 1 and 2.
type Resource struct {
	ID                 string
	ExternalID         string
	Name               string
	PrimaryEmail       string
	NotificationEmail  string
	Role               string
	BackupResourceID   *string
	ManagerID          *string
	AvailabilityStatus AvailabilityStatus
	LeaveStart         *time.Time
	LeaveEnd           *time.Time
	Timezone           string
	MaxUtilization     float64
	ChatUserID         string
	Country            string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Available reports whether the resource may receive alerts right now.
func (r *Resource) Available() bool {
	return r.AvailabilityStatus == AvailabilityActive
}

// EmailForNotification prefers the dedicated notification address.
func (r *Resource) EmailForNotification() string {
	if r.NotificationEmail != "" {
		return r.NotificationEmail
	}
	return r.PrimaryEmail
}
