// Package user provides the principal directory: looking up accounts,
// verifying credentials and shaping the attributes released about an
// authenticated subject.
package user
