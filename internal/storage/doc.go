// Package storage persists tracked players so a restart resumes tracking.
//
// Two drivers exist: "file" (JSON snapshot plus an append-only journal) and
// "sqlite". Both implement tracking.Gateway and tracking.Loader.
package storage
