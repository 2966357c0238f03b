// Package webhooks verifies inbound delivery signatures and tracks
// per-delivery processing claims so redeliveries are deduplicated.
//
// Verification follows the platform's signature contract: an HMAC-SHA256
// digest of the raw body, hex encoded, carried in the X-Hub-Signature-256
// header with a "sha256=" prefix. When no secret is configured the verifier
// reports the check as skipped instead of failing, so development hosts can
// run without shared secrets.
package webhooks
