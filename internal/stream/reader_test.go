package stream

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderParsesFields(t *testing.T) {
	input := ": keep-alive\n" +
		"retry: 1000\n" +
		"event: delta\r\n" +
		"id: 7\n" +
		"data: {\"v\":\"a\"}\n\n" +
		"event: ignored\n\n" +
		"data:line one\n" +
		"data: line two\n\n" +
		"event: presence\n" +
		"data: tail"

	r := NewReader(strings.NewReader(input))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, RawEvent{Event: "delta", ID: "7", Data: []byte(`{"v":"a"}`)}, ev)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "", ev.Event)
	assert.Equal(t, "line one\nline two", string(ev.Data))

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "presence", ev.Event)
	assert.Equal(t, "tail", string(ev.Data))

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderRejectsOversizedLine(t *testing.T) {
	input := "data: " + strings.Repeat("x", MaxEventSize+1) + "\n\n"
	_, err := NewReader(strings.NewReader(input)).Next()
	assert.ErrorIs(t, err, ErrLineTooLong)
}
