// Package relay implements the real-time document collaboration relay: it
// terminates WebSocket sessions, groups them into document-scoped rooms,
// and fans edit deltas and cursor positions out to every other room member.
//
// The relay is a pure transport. It never inspects delta payloads, keeps no
// edit history, and performs no merging; it guarantees ordered, origin-
// excluded delivery within a room and nothing more. Deltas are FIFO per
// (origin, room); cursor updates are best-effort and may be dropped under
// backpressure. For multi-process deployments the same fan-out runs over a
// shared message bus (see the Bus interface and the bus package).
package relay
