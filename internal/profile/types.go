package profile

import "time"

// Placeholder replaces a document that could not be found or read.
const Placeholder = "document not found"

// Document is the person's biography and résumé as plain text. It is built
// once at startup and shared read-only.
type Document struct {
	Biography string
	Resume    string
	LoadedAt  time.Time
}

// HasResume reports whether real résumé text was loaded.
func (d Document) HasResume() bool {
	return d.Resume != "" && d.Resume != Placeholder
}

// HasBiography reports whether real biography text was loaded.
func (d Document) HasBiography() bool {
	return d.Biography != "" && d.Biography != Placeholder
}
