// Package store persists the message ledger backing the operator
// console. The bounded in-session history stays authoritative for the
// dialogue engine; the ledger is the console's long-horizon view.
package store
