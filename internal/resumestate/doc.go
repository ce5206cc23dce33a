// Package resumestate persists the single resume record shared between the
// scheduler daemon (writer) and runner processes (readers).
//
// The record is a current value, not a log: every write replaces the whole
// record atomically, so a reader in another process never observes a mix of
// old and new fields, even if the writer crashes mid-write.
package resumestate
