// Package types defines the shared data model of the Dela engine:
// observed steps, workflow instances and templates, automation policies,
// workflow runs, and the structured error type used across packages.
package types
