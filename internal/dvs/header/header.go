// Package header locates the textual header that precedes binary event data
// in RAW and DAT recordings.
//
// A header is a run of lines that each start with '%'. Scanning stops at the
// first byte that is not '%', or right after a "% end" line. The content is
// kept verbatim so it can be written back unchanged when transcoding.
package header

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/dvs.codec/internal/dvs"
)

// Prefix starts every header line.
const Prefix = '%'

const endMarker = "% end"

// Header is the leading metadata block of a recording.
type Header struct {
	// Lines holds each header line without its trailing newline.
	Lines []string
	// Size is the byte offset of the first event word.
	Size int64
}

// Read consumes header lines from br and returns the header. On return br
// is positioned at the first event byte. A stream with no header yields an
// empty Header with Size 0.
func Read(br *bufio.Reader) (*Header, error) {
	h := &Header{}
	for {
		first, err := br.Peek(1)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return h, nil
			}
			return nil, fmt.Errorf("%w: %v", dvs.ErrHeaderRead, err)
		}
		if first[0] != Prefix {
			return h, nil
		}

		line, err := br.ReadBytes('\n')
		h.Size += int64(len(line))
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: line %d has no terminator after %d bytes",
					dvs.ErrHeaderRead, len(h.Lines)+1, len(line))
			}
			return nil, fmt.Errorf("%w: %v", dvs.ErrHeaderRead, err)
		}

		text := strings.TrimRight(string(line), "\r\n")
		h.Lines = append(h.Lines, text)
		if strings.TrimSpace(text) == endMarker {
			return h, nil
		}
	}
}

// Locate returns the byte offset of the first event word in r.
func Locate(r io.Reader) (int64, error) {
	h, err := Read(bufio.NewReader(r))
	if err != nil {
		return 0, err
	}
	return h.Size, nil
}

// Bytes renders the header back to its wire form, one '\n' per line.
func (h *Header) Bytes() []byte {
	var buf bytes.Buffer
	for _, line := range h.Lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Write emits lines as a header. Lines missing the '%' prefix get one so the
// result is always locatable by Read.
func Write(w io.Writer, lines []string) (int64, error) {
	var written int64
	for _, line := range lines {
		line = strings.TrimRight(line, "\r\n")
		if !strings.HasPrefix(line, string(Prefix)) {
			line = "% " + line
		}
		n, err := io.WriteString(w, line+"\n")
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("failed to write header line: %w", err)
		}
	}
	return written, nil
}

// Metadata is the subset of header fields the codecs care about.
type Metadata struct {
	Format dvs.Format
	Width  int
	Height int
	// Fields holds every "% key value" line, keyed by the first word.
	Fields map[string]string
}

// Metadata parses the well-known header lines. Unknown or malformed lines
// are kept in Fields but otherwise ignored.
//
//	% format EVT3;height=720;width=1280
//	% geometry 1280x720
//	% evt 3.0
//	% width 304
func (h *Header) Metadata() Metadata {
	md := Metadata{Fields: make(map[string]string)}
	for _, line := range h.Lines {
		body := strings.TrimSpace(strings.TrimPrefix(line, string(Prefix)))
		if body == "" || body == "end" {
			continue
		}
		key, value, _ := strings.Cut(body, " ")
		value = strings.TrimSpace(value)
		md.Fields[key] = value

		switch key {
		case "format":
			parts := strings.Split(value, ";")
			if f, err := dvs.ParseFormat(parts[0]); err == nil {
				md.Format = f
			}
			for _, opt := range parts[1:] {
				name, v, ok := strings.Cut(opt, "=")
				if !ok {
					continue
				}
				switch strings.TrimSpace(name) {
				case "width":
					md.Width = atoi(v, md.Width)
				case "height":
					md.Height = atoi(v, md.Height)
				}
			}
		case "geometry":
			w, hh, ok := strings.Cut(value, "x")
			if ok {
				md.Width = atoi(w, md.Width)
				md.Height = atoi(hh, md.Height)
			}
		case "evt":
			if md.Format == dvs.FormatUnknown {
				if f, err := dvs.ParseFormat(value); err == nil {
					md.Format = f
				}
			}
		case "width":
			md.Width = atoi(value, md.Width)
		case "height":
			md.Height = atoi(value, md.Height)
		}
	}
	return md
}

func atoi(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// Retarget returns the header lines adjusted to describe format: "% evt" and
// "% format" lines are rewritten for EVT targets and dropped for DAT. All
// other lines are kept verbatim.
func (h *Header) Retarget(format dvs.Format) []string {
	out := make([]string, 0, len(h.Lines))
	for _, line := range h.Lines {
		body := strings.TrimSpace(strings.TrimPrefix(line, string(Prefix)))
		key, value, _ := strings.Cut(body, " ")
		switch key {
		case "evt":
			switch format {
			case dvs.FormatEVT2:
				line = "% evt 2.0"
			case dvs.FormatEVT3:
				line = "% evt 3.0"
			default:
				continue
			}
		case "format":
			_, opts, hasOpts := strings.Cut(strings.TrimSpace(value), ";")
			switch format {
			case dvs.FormatEVT2, dvs.FormatEVT3:
				line = "% format " + strings.ToUpper(format.String())
				if hasOpts {
					line += ";" + opts
				}
			default:
				continue
			}
		}
		out = append(out, line)
	}
	return out
}
