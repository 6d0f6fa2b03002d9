package esp

import (
	"bytes"
	"io/ioutil"
)

// Transpile converts an ESP document into the JavaScript program that
// renders it. Literal text is wrapped into out.write("...") calls while
// the embedded script fragments are kept in place.
func Transpile(data []byte) ([]byte, error) {
	r := NewReader(bytes.NewReader(data))
	defer r.Close()

	return ioutil.ReadAll(r)
}

// TranspileWithInit works like Transpile but emits the given statement
// instead of the default out init in front of the first write.
func TranspileWithInit(data []byte, outInit string) ([]byte, error) {
	r := NewReader(bytes.NewReader(data))
	defer r.Close()

	if err := r.SetOutInit(outInit); err != nil {
		return nil, err
	}
	return ioutil.ReadAll(r)
}
