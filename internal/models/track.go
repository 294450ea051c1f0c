package models

// Track holds the metadata extracted from a single local audio file.
// It is read once when a file enters the pipeline and never mutated.
type Track struct {
	Path     string
	Title    string
	Artist   string
	CoverArt []byte
}
