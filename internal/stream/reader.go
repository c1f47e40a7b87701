package stream

import (
	"bufio"
	"bytes"
	"io"
)

// MaxEventSize bounds a single line of the stream.
const MaxEventSize = 1 << 20

// RawEvent is one undecoded server-sent event.
type RawEvent struct {
	Event string
	ID    string
	Data  []byte
}

// Reader parses server-sent events incrementally.
type Reader struct {
	reader *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event that carries data. It returns io.EOF once the
// stream ends; a trailing event without a blank line is still delivered.
func (r *Reader) Next() (RawEvent, error) {
	var (
		ev        RawEvent
		dataLines [][]byte
	)

	flush := func() RawEvent {
		ev.Data = bytes.Join(dataLines, []byte("\n"))
		return ev
	}

	for {
		line, err := r.readLine()
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return flush(), nil
			}
			return RawEvent{}, err
		}

		if len(line) == 0 {
			if len(dataLines) > 0 {
				return flush(), nil
			}
			// an event name without data is discarded
			ev = RawEvent{}
			continue
		}

		if line[0] == ':' {
			continue
		}

		field, value := line, []byte(nil)
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], line[i+1:]
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
		}

		switch string(field) {
		case "event":
			ev.Event = string(value)
		case "data":
			dataLines = append(dataLines, bytes.Clone(value))
		case "id":
			ev.ID = string(value)
		}
		// retry and unknown fields are ignored
	}
}

func (r *Reader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.reader.ReadLine()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > MaxEventSize {
			return nil, ErrLineTooLong
		}
		if !isPrefix {
			return line, nil
		}
	}
}
