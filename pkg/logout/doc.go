// Package logout implements single logout: resolving which sessions a
// LogoutRequest refers to, terminating them, and reporting how much of the
// logout actually happened through the response status.
package logout
