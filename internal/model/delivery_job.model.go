package model

import "fmt"

const DeliveryJobName = "deliver_capsule_email"

// DeliveryJob is the payload of one scheduled delivery.
type DeliveryJob struct {
	CapsuleID   int64 `json:"capsule_id"`
	RecipientID int64 `json:"recipient_id"`
}

// Key identifies the job in the delayed queue.
func (j DeliveryJob) Key() string {
	return fmt.Sprintf("%s:%d:%d", DeliveryJobName, j.CapsuleID, j.RecipientID)
}
