// Package bus implements the cross-process fan-out channel over NATS so
// that members of the same room connected to different relay processes
// still receive each other's deltas. One subject per room preserves the
// per-(origin, room) FIFO guarantee across the cluster.
package bus
