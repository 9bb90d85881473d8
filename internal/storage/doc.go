// Package storage persists users, challenges, and awards.
//
// Backends: "sqlite" (the production driver) and "memory" (dependency-free,
// used by tests and throwaway runs). Award upserts are single-statement
// atomic so a torn write can never leave a partial record.
package storage
