package model

import "time"

// RotationBatch is one immutable unit of cold storage: records of a single
// signal type covering [Start, End], stored at ObjectPath. The batch row is
// linked from the hot store only after the object write is confirmed durable.
type RotationBatch struct {
	Id          string    `json:"id"`
	Signal      Signal    `json:"signal"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	ObjectPath  string    `json:"object_path"`
	RecordCount int       `json:"record_count"`
	CreatedAt   time.Time `json:"created_at"`
}
