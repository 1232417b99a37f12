//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the
// wellnessid store interfaces. It supports multi-tenancy through Datastore
// namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - Account: Durable identity records
//   - Reservation: One entity per unique value (external id, email, handle,
//     phone), created transactionally to enforce uniqueness
//   - LinkToken: One-shot provider link tokens
//
// # Namespacing
//
// Pass a namespace when creating stores to isolate data between tenants:
//
//	accounts := gae.NewAccountStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	accounts := gae.NewAccountStore(client, "") // default namespace
//	linkTokens := gae.NewLinkTokenStore(client, "")
package gae
