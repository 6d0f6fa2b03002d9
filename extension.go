package esp

import (
	"io"
	"net/http"

	"github.com/d5/tengo/script"
)

// Extension defines an esp server plugin. This can be used
// to add functionality like database access from
// inside the pages.
type Extension interface {
	// Name should return the name of the plugin.
	Name() string

	// Init will be called one time before starting the server.
	Init() error

	// Shutdown will be called after server shutdown.
	Shutdown() error

	// Vars should return the names of the globals the extension
	// creates. They get declared before a page script is compiled so
	// Hook can bind them on the compiled clones.
	Vars() []string

	// Hook will be called on each http request to bind the extension
	// globals on the page script.
	Hook(sc *script.Compiled, w io.Writer, resp http.ResponseWriter, r *http.Request) error
}
