// Package loginstate tracks logins that are in flight: a ticket is created
// when an authentication request first arrives and lives until the login
// either succeeds or the ticket expires. Tickets are keyed by a hash of the
// request itself, so a browser retrying the same request lands on the same
// ticket, and carry the failure count displayed on the login form.
package loginstate
