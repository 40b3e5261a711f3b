// Package staging moves uploaded merchant rows from a pre-staging holding
// table into the canonical staging table, one bounded batch per invocation.
//
// Each batch re-normalizes its rows, rebuilds the email identity index from
// the full staging table, routes every row either to staging (new identity)
// or to quarantine (duplicate of an existing identity), deletes exactly the
// consumed pending ids and updates the import job ledger.
//
// The service depends only on the interfaces in repository.go. It never
// imports net/http or database/sql.
package staging
