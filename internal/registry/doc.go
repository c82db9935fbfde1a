// Package registry holds the process-wide, single-writer state for every
// mesh device and group: identity, capabilities, last-known status, and
// group aggregation. All mutation goes through the Registry; readers get
// a deep-copied snapshot so the cache can never be mutated out from under
// a concurrent writer.
package registry
