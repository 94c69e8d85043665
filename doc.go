// Package tributary syncs tenant data from SaaS APIs into an analytics store.
//
// Each tenant (company) configures connector instances for the systems it
// uses: HubSpot, Salesforce and Zoho CRM; QuickBooks and Odoo for
// accounting; Jira and Harvest for projects and time; Mailchimp for
// marketing. A sync extracts every table of an instance, flattens the
// records, and loads them into a per-tenant schema alongside load metadata.
//
// # Architecture
//
//	cmd/tributary           CLI and long-running server (cobra)
//	internal/manager        connector lifecycle, caching and sync orchestration
//	internal/api            HTTP control API (chi)
//	internal/scheduler      periodic per-tenant syncs (cron)
//	pkg/connector/core      Connector interface, Record, SyncResult
//	pkg/connector/base      shared HTTP, auth, pagination and retry
//	pkg/connector/registry  connector type registry
//	pkg/connector/sources   the SaaS connectors
//	pkg/loader              analytics store writer (Postgres, Snowflake, MySQL)
//	pkg/credentials         per-tenant credential stores
//	pkg/archive             raw extract archive (S3, GCS)
//	pkg/events              sync event stream (Kafka)
//
// # Quick Start
//
//	tributary create 42 hubspot --cred access_token=...
//	tributary sync 42 hubspot --tables contacts,deals
//	tributary serve --config tributary.yaml
package tributary
