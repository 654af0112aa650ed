// Package notifications delivers push notifications for pipeline milestones
// through ntfy. Without a configured topic every notification is a no-op.
package notifications
