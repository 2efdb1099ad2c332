// Package multipart drives multipart uploads.
//
// A Coordinator opens a remote session, uploads the plan's chunks with bounded
// concurrency through the retry governor, and then completes the session with
// the parts in ascending order. Any part that fails for good aborts the whole
// session; the store never keeps a half-written upload after Upload returns.
//
// The Session type tracks the lifecycle (open, completing, completed, aborting,
// aborted) and guards the list of uploaded parts.
package multipart
