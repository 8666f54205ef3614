// Package parser holds one small tokenizer per raw source format.
//
// Every tokenizer works on a single line or record and either returns a structured
// record or an error explaining why the input was skipped. Column-layout drift between
// OS versions is handled here and nowhere else.
package parser

import (
	"bufio"
	"errors"
	"strings"
)

var (
	// ErrHeader marks banner or column-title lines that carry no data
	ErrHeader = errors.New("parser: header line")

	// ErrMalformed marks lines that look like data but do not fit the layout
	ErrMalformed = errors.New("parser: malformed line")

	// ErrUnsupported marks well-formed lines the pipeline does not care about
	ErrUnsupported = errors.New("parser: unsupported record")
)

// Line is the parsed-or-skipped outcome for one input line
type Line[T any] struct {
	Number int
	Text   string
	Record T
	Err    error
}

func (l Line[T]) Skipped() bool {
	return l.Err != nil
}

// ParseLines runs fn over every non-blank line of input, keeping source order
func ParseLines[T any](input string, fn func(string) (T, error)) []Line[T] {
	var lines []Line[T]

	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	number := 0
	for scanner.Scan() {
		number++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		record, err := fn(text)
		lines = append(lines, Line[T]{
			Number: number,
			Text:   text,
			Record: record,
			Err:    err,
		})
	}

	return lines
}
