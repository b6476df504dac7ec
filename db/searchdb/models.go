package searchdb

import "time"

// Document is one indexed file. Path is the primary key.
type Document struct {
	Title     string
	Path      string
	Content   string
	Size      int64
	ModTime   time.Time
	Extension string
}

// Result is the stored projection of a Document. Content is never returned.
type Result struct {
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
	Extension string    `json:"extension"`
	Score     float64   `json:"score"`
}

// indexDocument is the shape handed to bleve. ModTime is kept as a decimal
// nanosecond string so the snapshot comparison is exact.
type indexDocument struct {
	Title     string `json:"title"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	Size      int64  `json:"size"`
	ModTime   string `json:"mtime"`
	Extension string `json:"extension"`
}
