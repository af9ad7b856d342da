// Package registry publishes app archives to OCI registries as artifacts.
//
// An archive is pushed as a single ZIP layer under an image manifest with
// its own artifact type and an empty config. The ORAS-backed client handles
// token exchange, credential lookup and retries; the OCIClient interface
// lets tests substitute an in-memory implementation.
package registry
