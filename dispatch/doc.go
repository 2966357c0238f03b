// Package dispatch routes verified webhook deliveries to registered event
// handlers. Each delivery moves through a fixed progression: received,
// verified, routed, then completed or failed; deliveries whose signature
// check fails stop at rejected. Handler errors never fail a dispatch, they
// are collected as partial failures so one subscriber cannot poison the
// acknowledgement for the rest.
package dispatch
