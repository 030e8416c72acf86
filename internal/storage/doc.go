// Package storage is the SQLite message journal.
//
// Every message the bot observes in a watched chat is appended here; the
// history source reads it back newest first, page by page.
package storage
