// Package storage provides the key/value persistence layer used by the
// watcher: the settings document, matched offer history and fetch error
// bodies all live behind the same Store interface.
//
// Drivers: sqlite (default), bolt, mem.
package storage
