// Package datasync contains the Data Sync bounded context.
// This context keeps the Zoho platform and the local system of record in step.
//
// Key concepts:
//   - SyncRun: one bounded batch of sync work tied to a single trigger (manual, scheduled, webhook)
//   - SyncEvent: one entity-level unit of work inside a Run, owned by that Run
//   - EntityType: the closed set of synchronized entity kinds
//   - Record: the comparable projection of an entity on either side
//
// Design Pattern: Ports & Adapters
//   - ZohoGateway and LocalStore are ports declared here
//   - Adapters live in infrastructure/zoho and infrastructure/persistence
package datasync
