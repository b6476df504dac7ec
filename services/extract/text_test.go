package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{name: "plain utf-8", raw: []byte("hello world"), want: "hello world"},
		{name: "utf-8 bom", raw: []byte("\xef\xbb\xbfhello"), want: "hello"},
		{name: "utf-16le bom", raw: []byte{0xff, 0xfe, 'h', 0, 'i', 0}, want: "hi"},
		{name: "utf-16be bom", raw: []byte{0xfe, 0xff, 0, 'h', 0, 'i'}, want: "hi"},
		{name: "invalid bytes dropped", raw: []byte("ab\xffcd\xc3"), want: "abcd"},
		{name: "cyrillic", raw: []byte("Привет"), want: "Привет"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := require.New(t)
			assert.Equal(tt.want, decodeText(tt.raw))
		})
	}
}

// warnRecorder keeps the messages of Warn calls.
type warnRecorder struct {
	warnings []string
}

func (w *warnRecorder) Info(msg string, keyvals ...interface{})  {}
func (w *warnRecorder) Error(msg string, keyvals ...interface{}) {}
func (w *warnRecorder) Debug(msg string, keyvals ...interface{}) {}
func (w *warnRecorder) Warn(msg string, keyvals ...interface{}) {
	w.warnings = append(w.warnings, msg)
}

func TestTextStrategyLimitsBytes(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		wantLen  int
		wantWarn bool
	}{
		{name: "over the limit", size: 100, wantLen: 10, wantWarn: true},
		{name: "exactly the limit", size: 10, wantLen: 10},
		{name: "under the limit", size: 4, wantLen: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := require.New(t)
			path := writeFile(t, "big.log", []byte(strings.Repeat("a", tt.size)))
			recorder := &warnRecorder{}

			text, err := (&textStrategy{logger: recorder, maxBytes: 10}).Extract(context.Background(), path)
			assert.NoError(err)
			assert.Len(text, tt.wantLen)
			assert.Equal(tt.wantWarn, len(recorder.warnings) == 1, "warnings: %v", recorder.warnings)
		})
	}
}
