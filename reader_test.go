package esp

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// parse pushes a template through the reader rune by rune and returns
// the generated source.
func parse(t *testing.T, src string) string {
	t.Helper()

	r := NewReader(strings.NewReader(src))
	defer r.Close()

	return drain(t, r)
}

func drain(t *testing.T, r *Reader) string {
	t.Helper()

	var sb strings.Builder
	for {
		c, _, err := r.ReadRune()
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
		sb.WriteRune(c)
	}
	return sb.String()
}

func TestReadSingle(t *testing.T) {
	r := NewReader(strings.NewReader("<%var%>"))
	defer r.Close()

	for _, want := range "var" {
		c, _, err := r.ReadRune()
		assert.NoError(t, err)
		assert.Equal(t, want, c)
	}

	_, _, err := r.ReadRune()
	assert.Equal(t, io.EOF, err)
}

func TestReadBufferAll(t *testing.T) {
	r := NewReader(strings.NewReader("<%var%>"))
	defer r.Close()

	buf := make([]byte, 3)
	n, err := r.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "var", string(buf))

	// nothing more to read, expect EOF
	n, err = r.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, n)
}

func TestReadBufferOffset(t *testing.T) {
	r := NewReader(strings.NewReader("<%var x = 0;%>"))
	defer r.Close()

	buf := []byte("..........")

	n, err := r.Read(buf[2:5])
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "..var.....", string(buf))

	n, err = r.Read(buf[2:9])
	assert.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, ".. x = 0;.", string(buf))

	// nothing more to read, expect EOF
	n, err = r.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, n)
}

func TestTemplate(t *testing.T) {
	assert.Equal(t, "out=response.writer;out.write(\"test\");", parse(t, "test"))
	assert.Equal(t, "out=response.writer;out.write(\"test\\n\");\nout.write(\"test2\");", parse(t, "test\ntest2"))
}

func TestOutInit(t *testing.T) {
	r := NewReader(strings.NewReader("test"))
	defer r.Close()

	assert.NoError(t, r.SetOutInit("out=getOut();"))
	assert.Equal(t, "out=getOut();out.write(\"test\");", drain(t, r))
}

func TestOutInitAfterRead(t *testing.T) {
	r := NewReader(strings.NewReader("test"))
	defer r.Close()

	_, _, err := r.ReadRune()
	assert.NoError(t, err)
	assert.Error(t, r.SetOutInit("out=getOut();"))
}

func TestCode(t *testing.T) {
	assert.Equal(t, " test(); ", parse(t, "<% test(); %>"))
	assert.Equal(t, " \ntest();\ntest2(); ", parse(t, "<% \ntest();\ntest2(); %>"))
}

func TestExpr(t *testing.T) {
	assert.Equal(t, "out=response.writer;out.write( x + 1 );", parse(t, "<%= x + 1 %>"))
	assert.Equal(t,
		"out=response.writer;out.write(\"<!-- \");out.write( x + 1 );out.write(\" -->\");",
		parse(t, "<!-- <%= x + 1 %> -->"))
}

func TestComment(t *testing.T) {
	assert.Equal(t, "", parse(t, "<%-- test(); --%>"))
}

func TestCompactExpressions(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			"double quoted",
			"<html version=\"${1+1}\">\n",
			"out=response.writer;out.write(\"<html version=\\\"\");out.write(1+1);out.write(\"\\\">\\n\");\n",
		},
		{
			"double quoted negative",
			"<html version=\"{1+1}\">\n",
			"out=response.writer;out.write(\"<html version=\\\"{1+1}\\\">\\n\");\n",
		},
		{
			"single quoted",
			"<html version='${1+1}'>\n",
			"out=response.writer;out.write(\"<html version='\");out.write(1+1);out.write(\"'>\\n\");\n",
		},
		{
			"single quoted negative",
			"<html version='{1+1}'>\n",
			"out=response.writer;out.write(\"<html version='{1+1}'>\\n\");\n",
		},
		{
			"unquoted negative",
			"<html version=${1+1}>\n",
			"out=response.writer;out.write(\"<html version=${1+1}>\\n\");\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parse(t, tt.input))
		})
	}
}

func TestCompleteTemplate(t *testing.T) {
	input := "<html>\n" +
		"<head><title><%= someExpr %></title></head>\n" +
		"<!-- some HTML comment -->\n" +
		"<-- some ESP comment -->\n" +
		"// some javascript comment\n" +
		"/* another javascript comment /*\n" +
		"<%\n" +
		"expr on\n" +
		"two lines\n" +
		"%>\n" +
		"<verbatim stuff=\"quoted\">xyz</verbatim>\n" +
		"<moreverbatim stuff='single'>xx</moreverbatim>\n" +
		"<!-- HTML comment with <% expr.here; %> and EOL\n-->\n" +
		"</html>"

	expected := "out=response.writer;out.write(\"<html>\\n\");\n" +
		"out.write(\"<head><title>\");out.write( someExpr );out.write(\"</title></head>\\n\");\n" +
		"out.write(\"<!-- some HTML comment -->\\n\");\n" +
		"out.write(\"<-- some ESP comment -->\\n\");\n" +
		"out.write(\"// some javascript comment\\n\");\n" +
		"out.write(\"/* another javascript comment /*\\n\");\n" +
		"\n" +
		"expr on\n" +
		"two lines\n" +
		"out.write(\"\\n\");\n" +
		"out.write(\"<verbatim stuff=\\\"quoted\\\">xyz</verbatim>\\n\");\n" +
		"out.write(\"<moreverbatim stuff='single'>xx</moreverbatim>\\n\");\n" +
		"out.write(\"<!-- HTML comment with \"); expr.here; out.write(\" and EOL\\n\");\n" +
		"out.write(\"-->\\n\");\n" +
		"out.write(\"</html>\");"

	assert.Equal(t, expected, parse(t, input))
}

func TestNumericExpression(t *testing.T) {
	assert.Equal(t, "out=response.writer;out.write( 1 );", parse(t, "<%= 1 %>"))
	assert.Equal(t, "out=response.writer;out.write( \"1\" );", parse(t, "<%= \"1\" %>"))
	assert.Equal(t, "out=response.writer;out.write( '1' );", parse(t, "<%= '1' %>"))
}

func TestColon(t *testing.T) {
	assert.Equal(t,
		"out=response.writer;out.write(\"currentNode.text:\");out.write( currentNode.text );",
		parse(t, "currentNode.text:<%= currentNode.text %>"))
}

func TestEqualSigns(t *testing.T) {
	assert.Equal(t,
		"out=response.writer;out.write(\"currentNode.text=\");out.write( currentNode.text );",
		parse(t, "currentNode.text=<%= currentNode.text %>"))
}

func TestSingleQuoted(t *testing.T) {
	assert.Equal(t,
		"out=response.writer;out.write(\"currentNode.text='\");out.write( currentNode.text );out.write(\"'\");",
		parse(t, "currentNode.text='<%= currentNode.text %>'"))
}

func TestDoubleQuoted(t *testing.T) {
	assert.Equal(t,
		"out=response.writer;out.write(\"currentNode.text=\\\"\");out.write( currentNode.text );out.write(\"\\\"\");",
		parse(t, "currentNode.text=\"<%= currentNode.text %>\""))
}

func TestBackslashEscaped(t *testing.T) {
	assert.Equal(t, "out=response.writer;out.write(\"a\\\\b\");", parse(t, `a\b`))
}

func TestExpressionOpenVariants(t *testing.T) {
	// <%== is an expression open followed by = as the first rune of
	// the expression.
	assert.Equal(t, "out=response.writer;out.write(= x );", parse(t, "<%== x %>"))

	// <%- that is not a comment open is a code block starting with -.
	assert.Equal(t, "- x ", parse(t, "<%- x %>"))
}

func TestEmptyInput(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	defer r.Close()

	_, _, err := r.ReadRune()
	assert.Equal(t, io.EOF, err)

	n, err := r.Read(make([]byte, 8))
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, n)
}

func TestReadAfterEOF(t *testing.T) {
	r := NewReader(strings.NewReader("<%x%>"))
	defer r.Close()

	drain(t, r)

	for i := 0; i < 3; i++ {
		_, _, err := r.ReadRune()
		assert.Equal(t, io.EOF, err)
	}
}

func TestUnterminatedConstructs(t *testing.T) {
	// Unterminated regions drain the rest of the input as part of the
	// region, a possibly broken tail is fine.
	assert.Equal(t, "x", parse(t, "<%x"))
	assert.Equal(t, "out=response.writer;out.write( x", parse(t, "<%= x"))
	assert.Equal(t, "", parse(t, "<%-- x"))
	assert.Equal(t, "out=response.writer;out.write(\"a\\\"\");out.write(1+1", parse(t, "a\"${1+1"))
}

type failReader struct {
	err error
}

func (f failReader) Read(p []byte) (int, error) {
	return 0, f.err
}

func TestSourceError(t *testing.T) {
	srcErr := errTest("boom")

	r := NewReader(failReader{err: srcErr})
	defer r.Close()

	_, _, err := r.ReadRune()
	assert.Equal(t, srcErr, err)
}

type errTest string

func (e errTest) Error() string { return string(e) }

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestCloseReleasesSource(t *testing.T) {
	src := &closeRecorder{Reader: strings.NewReader("test")}

	r := NewReader(src)
	assert.NoError(t, r.Close())
	assert.True(t, src.closed)
}
