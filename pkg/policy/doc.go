// Package policy integrates the Open Policy Agent (OPA) engine with the
// moderation service, turning classifier verdicts into presentation
// dispositions.
//
// A disposition never rejects content: it decides whether stored content
// is published as-is or flagged, whether clients must gate it behind a
// reveal control, and which labels to show. The built-in Rego module
// mirrors the behaviour of the original client; operators may supply
// their own module. The package is decoupled from HTTP concerns so
// policies can be tested and reloaded independently of the server.
package policy
