// Package pool recycles the fixed-size buffers that hold multipart chunks while
// their part is in flight.
//
// Buffers are handed out by Get and must be returned with Put once the part has
// settled. The pool tracks how many buffers are resident so tests can assert the
// memory bound of a transfer.
package pool
