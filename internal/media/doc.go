// Package media holds the shared vocabulary of the fetch service: URL shapes,
// fetch results, collaborator interfaces and the error taxonomy surfaced to
// clients.
package media
