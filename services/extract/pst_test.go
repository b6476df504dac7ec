package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"testing"

	"github.com/meghashyamc/doccatalog/logger"
	"github.com/stretchr/testify/require"
)

type fakeFolder struct {
	name          string
	messages      []mailMessage
	messageErrAt  int
	subFolders    []*fakeFolder
	subFoldersErr error
}

func (f *fakeFolder) Name() string { return f.name }

func (f *fakeFolder) Messages() iter.Seq2[mailMessage, error] {
	return func(yield func(mailMessage, error) bool) {
		for i, message := range f.messages {
			if f.messageErrAt == i+1 {
				if !yield(mailMessage{}, errors.New("corrupt message")) {
					return
				}
				continue
			}
			if !yield(message, nil) {
				return
			}
		}
	}
}

func (f *fakeFolder) SubFolders() ([]mailFolder, error) {
	if f.subFoldersErr != nil {
		return nil, f.subFoldersErr
	}
	folders := make([]mailFolder, len(f.subFolders))
	for i, sub := range f.subFolders {
		folders[i] = sub
	}
	return folders, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func archiveOf(root *fakeFolder) archiveOpener {
	return func(string) (mailFolder, io.Closer, error) {
		return root, nopCloser{}, nil
	}
}

func messages(folder string, n int) []mailMessage {
	out := make([]mailMessage, n)
	for i := range out {
		out[i] = mailMessage{Subject: fmt.Sprintf("%s subject %d", folder, i), Body: fmt.Sprintf("%s body %d", folder, i)}
	}
	return out
}

func TestMailArchiveVisitsEveryFolder(t *testing.T) {
	assert := require.New(t)

	// 7 messages spread over 5 folders nested 3 deep
	root := &fakeFolder{name: "root", subFolders: []*fakeFolder{
		{name: "inbox", messages: messages("inbox", 3), subFolders: []*fakeFolder{
			{name: "projects", messages: messages("projects", 1), subFolders: []*fakeFolder{
				{name: "archive", messages: messages("archive", 2)},
			}},
		}},
		{name: "sent", messages: messages("sent", 1)},
	}}

	strategy := newMailArchiveStrategy(logger.NewDiscard(), archiveOf(root), 0)
	text, err := strategy.Extract(context.Background(), "/mail/box.pst")
	assert.NoError(err)

	assert.Equal(7, strings.Count(text, " subject "))
	assert.Equal(7, strings.Count(text, " body "))
	for _, folder := range []string{"inbox", "projects", "archive", "sent"} {
		assert.Contains(text, folder+" subject 0\n"+folder+" body 0\n")
	}

	// pre-order: a folder's messages come before its sub-folders and siblings after
	assert.Less(strings.Index(text, "inbox subject 2"), strings.Index(text, "projects subject 0"))
	assert.Less(strings.Index(text, "archive subject 1"), strings.Index(text, "sent subject 0"))
}

func TestMailArchiveSkipsBrokenParts(t *testing.T) {
	assert := require.New(t)

	root := &fakeFolder{name: "root", subFolders: []*fakeFolder{
		{name: "inbox", messages: messages("inbox", 3), messageErrAt: 2},
		{name: "unreadable", messages: messages("unreadable", 1), subFoldersErr: errors.New("bad node")},
		{name: "sent", messages: messages("sent", 2)},
	}}

	strategy := newMailArchiveStrategy(logger.NewDiscard(), archiveOf(root), 0)
	text, err := strategy.Extract(context.Background(), "/mail/box.pst")
	assert.NoError(err)

	assert.Contains(text, "inbox subject 0")
	assert.NotContains(text, "inbox subject 1")
	assert.Contains(text, "inbox subject 2")
	assert.Contains(text, "unreadable subject 0")
	assert.Contains(text, "sent subject 1")
}

func TestMailArchiveDepthLimit(t *testing.T) {
	assert := require.New(t)

	deepest := &fakeFolder{name: "level3", messages: messages("level3", 1)}
	root := &fakeFolder{name: "root", messages: messages("root", 1), subFolders: []*fakeFolder{
		{name: "level1", messages: messages("level1", 1), subFolders: []*fakeFolder{
			{name: "level2", messages: messages("level2", 1), subFolders: []*fakeFolder{deepest}},
		}},
	}}

	strategy := newMailArchiveStrategy(logger.NewDiscard(), archiveOf(root), 2)
	text, err := strategy.Extract(context.Background(), "/mail/box.pst")
	assert.NoError(err)
	assert.Contains(text, "level2 subject 0")
	assert.NotContains(text, "level3")
}

func TestMailArchiveDecodesBodiesPermissively(t *testing.T) {
	assert := require.New(t)
	root := &fakeFolder{name: "root", messages: []mailMessage{{Subject: "hello", Body: "bad \xff\xfe bytes"}}}

	text, err := newMailArchiveStrategy(logger.NewDiscard(), archiveOf(root), 0).Extract(context.Background(), "/mail/box.ost")
	assert.NoError(err)
	assert.Equal("hello\nbad  bytes\n", text)
}

func TestMailArchiveOpenFailure(t *testing.T) {
	assert := require.New(t)
	path := writeFile(t, "broken.pst", []byte("definitely not a pst file"))

	_, err := New(logger.NewDiscard(), Options{}).Extract(context.Background(), path)
	assert.Equal(CorruptDocument, KindOf(err))
}
