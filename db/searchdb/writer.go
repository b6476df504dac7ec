package searchdb

import (
	"errors"

	"github.com/blevesearch/bleve/v2"
)

// Writer stages upserts and deletes for a single commit. Nothing it holds is
// visible to readers, or survives the process, until Commit returns nil.
type Writer struct {
	db    *BleveDB
	batch *bleve.Batch
	done  bool
}

// Upsert inserts doc or replaces the document already stored under doc.Path.
func (w *Writer) Upsert(doc Document) error {
	if w.done {
		return ErrWriterClosed
	}
	if doc.Path == "" {
		return &IndexIOError{Op: "upsert", Location: w.db.location, Err: errors.New("document path cannot be empty")}
	}

	err := w.batch.Index(doc.Path, indexDocument{
		Title:     doc.Title,
		Path:      doc.Path,
		Content:   doc.Content,
		Size:      doc.Size,
		ModTime:   formatModTime(doc.ModTime),
		Extension: doc.Extension,
	})
	if err != nil {
		w.db.logger.Error("could not stage document", "path", doc.Path, "err", err.Error())
		return &IndexIOError{Op: "upsert", Location: w.db.location, Err: err}
	}

	return nil
}

// Delete stages removal of the document stored under path.
func (w *Writer) Delete(path string) error {
	if w.done {
		return ErrWriterClosed
	}
	w.batch.Delete(path)
	return nil
}

// Pending is the number of staged operations.
func (w *Writer) Pending() int {
	return w.batch.Size()
}

// Commit applies every staged operation atomically and releases the writer.
func (w *Writer) Commit() error {
	if w.done {
		return ErrWriterClosed
	}
	w.done = true
	defer w.db.releaseWriter()

	if w.db.closed.Load() {
		return &IndexIOError{Op: "commit", Location: w.db.location, Err: ErrClosed}
	}

	if w.batch.Size() == 0 {
		return nil
	}

	if err := w.db.index.Batch(w.batch); err != nil {
		w.db.logger.Error("could not commit batch", "location", w.db.location, "err", err.Error())
		return &IndexIOError{Op: "commit", Location: w.db.location, Err: err}
	}
	w.db.generation.Add(1)
	w.batch.Reset()

	return nil
}

// Discard drops everything staged. Calling it after Commit is a no-op.
func (w *Writer) Discard() {
	if w.done {
		return
	}
	w.done = true
	w.batch.Reset()
	w.db.releaseWriter()
}
