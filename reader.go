package esp

import (
	"bufio"
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// DefaultOutInit is the statement emitted in front of the first write
// call. It binds the name 'out' to the writer of the global response
// object the generated code expects at runtime.
const DefaultOutInit = "out=response.writer;"

type readerState int

const (
	// stateTemplate reads literal template text and wraps it into
	// out.write("...") calls, one per input line.
	stateTemplate readerState = iota

	// stateCode reads a <% ... %> block and passes it through verbatim.
	stateCode

	// stateExpr reads a <%= ... %> block and wraps it into out.write( ... );.
	stateExpr

	// stateComment reads a <%-- ... --%> block and drops it.
	stateComment

	// stateCompactExpr reads a ${ ... } expression inside a quoted
	// literal and splices it into the surrounding write call.
	stateCompactExpr
)

// Reader translates an ESP (ECMA Server Page) template into the plain
// JavaScript program that renders it. Literal text is escaped into
// double quoted string literals and wrapped into out.write calls while
// the embedded script fragments stay in place. The translation happens
// on the fly with a few runes of lookahead, so arbitrarily large
// templates can be streamed through.
//
// A Reader is single use and not safe for concurrent access. The quote
// tracking that detects ${...} expressions is literal and does not
// interpret escape sequences in the template source.
type Reader struct {
	src  *bufio.Reader
	orig io.Reader

	state   readerState
	outInit string

	started     bool
	initWritten bool
	lineOpen    bool
	quote       rune

	la   []rune
	outq []byte
}

// NewReader creates a Reader that translates the template read from src.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src:     bufio.NewReader(src),
		orig:    src,
		outInit: DefaultOutInit,
		la:      make([]rune, 0, 4),
	}
}

// SetOutInit overrides the statement that binds the out writer. It has
// to be a full statement including the trailing semicolon and can only
// be set before the first read.
func (r *Reader) SetOutInit(stmt string) error {
	if r.started {
		return errors.New("out init can't be changed after reading started")
	}
	r.outInit = stmt
	return nil
}

// ReadRune returns the next rune of the translated output. It reports
// io.EOF once the template is exhausted and all pending output has been
// drained.
func (r *Reader) ReadRune() (rune, int, error) {
	r.started = true

	for len(r.outq) == 0 {
		if err := r.step(); err != nil {
			return 0, 0, err
		}
	}

	c, size := utf8.DecodeRune(r.outq)
	r.outq = r.outq[size:]
	return c, size, nil
}

// Read fills p with translated output. Unlike most readers it only
// returns a short count at the end of the template, so a caller always
// gets a full buffer while input remains.
func (r *Reader) Read(p []byte) (int, error) {
	r.started = true

	n := 0
	for n < len(p) {
		if len(r.outq) == 0 {
			if err := r.step(); err != nil {
				if err == io.EOF && n > 0 {
					return n, nil
				}
				return n, err
			}
			continue
		}

		m := copy(p[n:], r.outq)
		r.outq = r.outq[m:]
		n += m
	}
	return n, nil
}

// Close closes the underlying source if it exposes a Close method.
func (r *Reader) Close() error {
	if c, ok := r.orig.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// step advances the state machine by one input decision. It consumes at
// least one rune of input or produces at least one rune of output,
// returning io.EOF once neither is possible.
func (r *Reader) step() error {
	switch r.state {
	case stateTemplate:
		return r.stepTemplate()
	case stateCode:
		return r.stepCode()
	case stateExpr:
		return r.stepExpr()
	case stateComment:
		return r.stepComment()
	case stateCompactExpr:
		return r.stepCompactExpr()
	}
	return errors.Errorf("invalid reader state %d", r.state)
}

func (r *Reader) stepTemplate() error {
	la, err := r.peek(4)
	if err != nil {
		return err
	}

	if len(la) == 0 {
		if r.lineOpen {
			r.emit(`");`)
			r.lineOpen = false
			return nil
		}
		return io.EOF
	}

	switch {
	case hasPrefix(la, "<%--"):
		r.skip(4)
		r.closeLine()
		r.state = stateComment

	case hasPrefix(la, "<%="):
		r.skip(3)
		r.closeLine()
		r.writeInit()
		r.emit("out.write(")
		r.state = stateExpr

	case hasPrefix(la, "<%"):
		r.skip(2)
		r.closeLine()
		r.state = stateCode

	case la[0] == '\n':
		// A newline always closes the write call of the current line
		// with an escaped newline inside the literal and a real one
		// after it, even if the line held no text.
		r.skip(1)
		r.openLine()
		r.emit(`\n");`)
		r.emitRune('\n')
		r.lineOpen = false

	case r.quote != 0 && hasPrefix(la, "${"):
		r.skip(2)
		r.openLine()
		r.emit(`");out.write(`)
		r.state = stateCompactExpr

	default:
		c := la[0]
		r.skip(1)
		if c == '\'' || c == '"' {
			r.toggleQuote(c)
		}
		r.openLine()
		r.emitEscaped(c)
	}

	return nil
}

func (r *Reader) stepCode() error {
	la, err := r.peek(2)
	if err != nil {
		return err
	}
	if len(la) == 0 {
		return io.EOF
	}

	if hasPrefix(la, "%>") {
		r.skip(2)
		r.state = stateTemplate
		return nil
	}

	r.skip(1)
	r.emitRune(la[0])
	return nil
}

func (r *Reader) stepExpr() error {
	la, err := r.peek(2)
	if err != nil {
		return err
	}
	if len(la) == 0 {
		return io.EOF
	}

	if hasPrefix(la, "%>") {
		r.skip(2)
		r.emit(");")
		r.state = stateTemplate
		return nil
	}

	r.skip(1)
	r.emitRune(la[0])
	return nil
}

func (r *Reader) stepComment() error {
	la, err := r.peek(4)
	if err != nil {
		return err
	}
	if len(la) == 0 {
		return io.EOF
	}

	if hasPrefix(la, "--%>") {
		r.skip(4)
		r.state = stateTemplate
		return nil
	}

	r.skip(1)
	return nil
}

func (r *Reader) stepCompactExpr() error {
	la, err := r.peek(1)
	if err != nil {
		return err
	}
	if len(la) == 0 {
		return io.EOF
	}

	if la[0] == '}' {
		// Reopen the surrounding literal. The line stays open and the
		// suspended quote context keeps tracking the template source.
		r.skip(1)
		r.emit(`);out.write("`)
		r.state = stateTemplate
		return nil
	}

	r.skip(1)
	r.emitRune(la[0])
	return nil
}

// writeInit emits the out init statement in front of the very first
// write wrapper. Plain code blocks never trigger it, so a template
// without any literal text or expression stays free of it.
func (r *Reader) writeInit() {
	if r.initWritten {
		return
	}
	r.emit(r.outInit)
	r.initWritten = true
}

// openLine starts the out.write call covering the current template line.
func (r *Reader) openLine() {
	if r.lineOpen {
		return
	}
	r.writeInit()
	r.emit(`out.write("`)
	r.lineOpen = true
}

// closeLine ends an open line write when an embedded tag interrupts the
// literal text.
func (r *Reader) closeLine() {
	if !r.lineOpen {
		return
	}
	r.emit(`");`)
	r.lineOpen = false
}

func (r *Reader) toggleQuote(c rune) {
	switch r.quote {
	case 0:
		r.quote = c
	case c:
		r.quote = 0
	}
}

// peek returns up to n runes of lookahead. Less than n runes are
// returned at the end of the input.
func (r *Reader) peek(n int) ([]rune, error) {
	for len(r.la) < n {
		c, _, err := r.src.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		r.la = append(r.la, c)
	}

	if len(r.la) > n {
		return r.la[:n], nil
	}
	return r.la, nil
}

func (r *Reader) skip(n int) {
	r.la = append(r.la[:0], r.la[n:]...)
}

func (r *Reader) emit(s string) {
	r.outq = append(r.outq, s...)
}

func (r *Reader) emitRune(c rune) {
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], c)
	r.outq = append(r.outq, buf[:n]...)
}

// emitEscaped writes a literal rune in JavaScript double quoted string
// form.
func (r *Reader) emitEscaped(c rune) {
	switch c {
	case '"':
		r.emit(`\"`)
	case '\\':
		r.emit(`\\`)
	case '\n':
		r.emit(`\n`)
	default:
		r.emitRune(c)
	}
}

func hasPrefix(la []rune, s string) bool {
	if len(la) < len(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if la[i] != rune(s[i]) {
			return false
		}
	}
	return true
}
