// Package watch implements the Last Bottle page watcher: the persisted
// settings document, the check cycle that fetches and diffs the offer
// page, the repeating timer, and the chat command surface that controls
// all of it.
package watch
