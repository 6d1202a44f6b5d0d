// Package metadata maintains the registry of relying service providers.
// Each service provider is described by a standard SAML EntityDescriptor
// XML file plus an optional entry in a YAML policy file controlling
// per-provider behavior such as mandatory request signing, assurance
// overrides and attribute release. The registry watches its directory and
// reloads on change.
package metadata
