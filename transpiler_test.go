package esp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranspile(t *testing.T) {
	out, err := Transpile([]byte("<p><%= name %></p>"))
	assert.NoError(t, err)
	assert.Equal(t, "out=response.writer;out.write(\"<p>\");out.write( name );out.write(\"</p>\");", string(out))
}

func TestTranspileEmpty(t *testing.T) {
	out, err := Transpile(nil)
	assert.NoError(t, err)
	assert.Equal(t, "", string(out))
}

func TestTranspileWithInit(t *testing.T) {
	out, err := TranspileWithInit([]byte("test"), OutInitStatement)
	assert.NoError(t, err)
	assert.Equal(t, "out := response.writer;out.write(\"test\");", string(out))
}
