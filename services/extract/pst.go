package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/meghashyamc/doccatalog/logger"
	pst "github.com/mooijtech/go-pst/v6/pkg"
	"github.com/mooijtech/go-pst/v6/pkg/properties"
)

const defaultMaxFolderDepth = 256

type mailMessage struct {
	Subject string
	Body    string
}

// mailFolder is one node of a mail archive's folder tree.
type mailFolder interface {
	Name() string
	// Messages yields each message, or a per-message error that the caller
	// may skip.
	Messages() iter.Seq2[mailMessage, error]
	SubFolders() ([]mailFolder, error)
}

type archiveOpener func(path string) (mailFolder, io.Closer, error)

type mailArchiveStrategy struct {
	logger   logger.Logger
	open     archiveOpener
	maxDepth int
}

func newMailArchiveStrategy(logger logger.Logger, open archiveOpener, maxDepth int) *mailArchiveStrategy {
	if maxDepth < 0 {
		maxDepth = defaultMaxFolderDepth
	}
	return &mailArchiveStrategy{logger: logger, open: open, maxDepth: maxDepth}
}

type pendingFolder struct {
	folder mailFolder
	depth  int
}

// Extract visits every folder of the archive in pre-order and concatenates
// "subject\nbody\n" for each message. A broken message or folder is logged
// and skipped; the rest of the archive is still read.
func (s *mailArchiveStrategy) Extract(ctx context.Context, path string) (string, error) {
	root, closer, err := s.open(path)
	if err != nil {
		return "", err
	}
	defer closer.Close()

	var result strings.Builder
	stack := []pendingFolder{{folder: root}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		s.appendMessages(&result, path, current.folder)

		subFolders, err := current.folder.SubFolders()
		if err != nil {
			s.logger.Error("could not read sub-folders", "path", path, "folder", current.folder.Name(), "err", err.Error())
			continue
		}
		if len(subFolders) == 0 {
			continue
		}
		if s.maxDepth > 0 && current.depth+1 > s.maxDepth {
			s.logger.Warn("mail folder nesting too deep, skipping sub-folders", "path", path, "folder", current.folder.Name(), "depth", current.depth)
			continue
		}

		// pushed in reverse so the first sub-folder is visited first
		for i := len(subFolders) - 1; i >= 0; i-- {
			stack = append(stack, pendingFolder{folder: subFolders[i], depth: current.depth + 1})
		}
	}

	return result.String(), nil
}

func (s *mailArchiveStrategy) appendMessages(result *strings.Builder, path string, folder mailFolder) {
	for message, err := range folder.Messages() {
		if err != nil {
			s.logger.Error("could not read message", "path", path, "folder", folder.Name(), "err", err.Error())
			continue
		}
		result.WriteString(message.Subject)
		result.WriteByte('\n')
		result.WriteString(dropInvalid(message.Body))
		result.WriteByte('\n')
	}
}

type pstArchive struct {
	file    *os.File
	archive *pst.File
}

func (a *pstArchive) Close() error {
	a.archive.Cleanup()
	return a.file.Close()
}

func openPSTArchive(path string) (mailFolder, io.Closer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, newError(ReadFailure, path, err)
	}

	archive, err := pst.New(file)
	if err != nil {
		file.Close()
		return nil, nil, newError(CorruptDocument, path, fmt.Errorf("not a mail archive: %w", err))
	}
	closer := &pstArchive{file: file, archive: archive}

	root, err := archive.GetRootFolder()
	if err != nil {
		closer.Close()
		return nil, nil, newError(CorruptDocument, path, fmt.Errorf("could not read root folder: %w", err))
	}

	return &pstFolder{folder: &root}, closer, nil
}

type pstFolder struct {
	folder *pst.Folder
}

func (f *pstFolder) Name() string {
	return f.folder.Name
}

func (f *pstFolder) Messages() iter.Seq2[mailMessage, error] {
	return func(yield func(mailMessage, error) bool) {
		messages, err := f.folder.GetMessageIterator()
		if errors.Is(err, pst.ErrMessagesNotFound) {
			return
		}
		if err != nil {
			yield(mailMessage{}, err)
			return
		}

		for messages.Next() {
			message := messages.Value()
			props, ok := message.Properties.(*properties.Message)
			if !ok {
				// appointments, contacts and other non-mail items
				continue
			}
			if !yield(mailMessage{Subject: props.GetSubject(), Body: props.GetBody()}, nil) {
				return
			}
		}
		if err := messages.Err(); err != nil {
			yield(mailMessage{}, err)
		}
	}
}

func (f *pstFolder) SubFolders() ([]mailFolder, error) {
	if !f.folder.HasSubFolders {
		return nil, nil
	}

	subFolders, err := f.folder.GetSubFolders()
	if err != nil {
		return nil, err
	}

	folders := make([]mailFolder, len(subFolders))
	for i := range subFolders {
		folders[i] = &pstFolder{folder: &subFolders[i]}
	}
	return folders, nil
}
