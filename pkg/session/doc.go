// Package session tracks single sign-on sessions established after a
// successful login. A session records which user authenticated, with what
// authentication reference, and for which request, so that subsequent
// requests can be answered without re-prompting and so that single logout
// can find every session belonging to a principal.
package session
