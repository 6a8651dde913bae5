// Package billing implements the inbound payment-provider webhook
// boundary: signature verification of signed events and idempotent syncing
// of catalog and subscription records. The relay core has no dependency on
// this package; they only share a process.
package billing
