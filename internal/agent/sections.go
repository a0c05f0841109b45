package agent

import "strings"

// SectionStatus tracks how far a named section has progressed in a stream.
type SectionStatus int

const (
	SectionPending SectionStatus = iota
	SectionOpen
	SectionClosed
)

// Markers maps a section name to its open and close delimiters, so the
// parser does not care what the delimiters look like on the wire.
type Markers interface {
	Open(name string) string
	Close(name string) string
}

type xmlMarkers struct{}

func (xmlMarkers) Open(name string) string  { return "<" + name + ">" }
func (xmlMarkers) Close(name string) string { return "</" + name + ">" }

// XMLMarkers is the delimiter style model output currently uses.
var XMLMarkers Markers = xmlMarkers{}

// SectionParser consumes a streamed response one chunk at a time and
// tracks named sections embedded in it. Sections do not nest. A section
// left open when the stream ends (or is cancelled) keeps the text seen
// so far and stays reported as incomplete until Finish is called.
type SectionParser struct {
	names   []string
	markers Markers

	status map[string]SectionStatus
	text   map[string]*strings.Builder

	raw     strings.Builder
	open    string
	carry   string
	marks   []string
	maxMark int
}

func NewSectionParser(markers Markers, names ...string) *SectionParser {
	if markers == nil {
		markers = XMLMarkers
	}
	p := &SectionParser{
		names:   names,
		markers: markers,
		status:  make(map[string]SectionStatus, len(names)),
		text:    make(map[string]*strings.Builder, len(names)),
	}
	for _, n := range names {
		p.status[n] = SectionPending
		p.text[n] = &strings.Builder{}
		p.marks = append(p.marks, markers.Open(n), markers.Close(n))
	}
	for _, m := range p.marks {
		if len(m) > p.maxMark {
			p.maxMark = len(m)
		}
	}
	return p
}

// Feed appends one stream chunk. Chunks may split markers at any byte
// boundary; a trailing partial marker is carried into the next call.
func (p *SectionParser) Feed(chunk string) {
	p.raw.WriteString(chunk)
	data := p.carry + chunk
	p.carry = ""

	for data != "" {
		if p.open == "" {
			name, at := p.nextOpen(data)
			if at < 0 {
				data = p.holdTail(data)
				break
			}
			data = data[at+len(p.markers.Open(name)):]
			p.open = name
			p.status[name] = SectionOpen
			continue
		}

		close := p.markers.Close(p.open)
		if at := strings.Index(data, close); at >= 0 {
			p.text[p.open].WriteString(data[:at])
			p.status[p.open] = SectionClosed
			data = data[at+len(close):]
			p.open = ""
			continue
		}

		kept := p.holdTail(data)
		p.text[p.open].WriteString(kept[:len(kept)-len(p.carry)])
		break
	}
}

// holdTail keeps a trailing fragment that could be the start of a marker
// split across chunks, returning the data with the carry still attached.
func (p *SectionParser) holdTail(data string) string {
	from := len(data) - p.maxMark + 1
	if from < 0 {
		from = 0
	}
	for i := from; i < len(data); i++ {
		if p.isMarkerPrefix(data[i:]) {
			p.carry = data[i:]
			break
		}
	}
	return data
}

// isMarkerPrefix reports whether s is a proper prefix of any marker in
// the configured delimiter style.
func (p *SectionParser) isMarkerPrefix(s string) bool {
	for _, m := range p.marks {
		if len(s) < len(m) && strings.HasPrefix(m, s) {
			return true
		}
	}
	return false
}

// nextOpen finds the earliest open marker of any still-pending section.
func (p *SectionParser) nextOpen(data string) (string, int) {
	best, bestAt := "", -1
	for _, n := range p.names {
		if p.status[n] != SectionPending {
			continue
		}
		if at := strings.Index(data, p.markers.Open(n)); at >= 0 && (bestAt < 0 || at < bestAt) {
			best, bestAt = n, at
		}
	}
	return best, bestAt
}

// Finish marks the end of input. The carried fragment, no longer a
// possible marker prefix, is flushed into the open section, which stays
// incomplete.
func (p *SectionParser) Finish() {
	if p.carry != "" && p.open != "" {
		p.text[p.open].WriteString(p.carry)
	}
	p.carry = ""
}

// Text returns the content captured for a section so far, trimmed.
func (p *SectionParser) Text(name string) string {
	b, ok := p.text[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(b.String())
}

// Status reports whether a section has started, is mid-stream, or closed.
func (p *SectionParser) Status(name string) SectionStatus {
	return p.status[name]
}

// Complete reports whether the section saw its closing marker.
func (p *SectionParser) Complete(name string) bool {
	return p.status[name] == SectionClosed
}

// Raw returns everything fed so far, markers included.
func (p *SectionParser) Raw() string { return p.raw.String() }

// ExtractSections parses a complete (or truncated) response in one shot.
func ExtractSections(content string, names ...string) map[string]string {
	p := NewSectionParser(XMLMarkers, names...)
	p.Feed(content)
	p.Finish()
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = p.Text(n)
	}
	return out
}
