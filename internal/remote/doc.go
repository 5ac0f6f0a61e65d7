// Package remote is the client for the tracker API.
//
// Gateway translates between the flat journal.Event model and the server's
// day-bucketed wire format, and classifies every failure into a Kind so
// callers can tell a policy conflict (a second completion on the same day)
// from a real fault without inspecting message text.
package remote
