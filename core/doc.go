// Package core contains the canonical domain contracts and entities for the
// GitHub App credential-and-delivery subsystem. Leaf packages (appjwt,
// ratelimit, github, webhooks, dispatch) depend on this package; core must
// not depend on transport- or store-specific adapters.
package core
