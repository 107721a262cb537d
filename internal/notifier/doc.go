// Package notifier delivers campaign events to the account owner's private
// chat.
//
// Notify never fails from the caller's point of view: events are rendered to
// HTML, published on the event bus and queued. A worker pool drains the queue
// under a shared rate limit, retrying failed sends with exponential backoff
// and jitter. Identical texts for the same account are suppressed for a short
// window.
//
// A small in-memory history of delivered texts is kept for the operator API.
package notifier
