package esp

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/atomic"

	"github.com/pkg/errors"

	"github.com/d5/tengo/objects"
	"github.com/d5/tengo/script"
	"github.com/d5/tengo/stdlib"
)

// OutInitStatement is handed to the reader for served pages. The page
// scripts run with a response global, so out is declared from its
// writer instead of the plain assignment of the default init.
const OutInitStatement = "out := response.writer;"

// requestedAbort stops a page run from inside die().
var requestedAbort = errors.New("request aborted")

// Server represents an instance of the esp server. It serves .esp pages
// from the public dir by transpiling them to scripts and running them
// per request. All other files are served as they are.
type Server struct {
	serv       *http.Server
	extensions []Extension
	running    *atomic.Bool
	conf       *Config
	cache      *scriptCache
	watcher    *cacheWatcher
}

// New creates a new esp server.
func New(conf *Config) *Server {
	c := *conf
	if c.Index == "" {
		c.Index = "index.esp"
	}

	s := &Server{
		running: atomic.NewBool(false),
		conf:    &c,
	}
	s.cache = newScriptCache(s.setupScript)

	return s
}

// AddExtension adds a new extension to the server.
// This function can only be called when the server
// is not running.
func (s *Server) AddExtension(e Extension) error {
	if s.running.Load() {
		return errors.New("can't add extension while running")
	}
	s.extensions = append(s.extensions, e)
	return nil
}

// Start starts the server and binds it to the
// given address.
func (s *Server) Start(address string) error {
	s.running.Store(true)
	defer func() {
		s.running.Store(false)
	}()

	for i := range s.extensions {
		if err := s.extensions[i].Init(); err != nil {
			return errors.Wrapf(err, "error while init of '%s'", s.extensions[i].Name())
		}
	}

	if s.conf.CacheScripts && s.conf.WatchFiles {
		w, err := newCacheWatcher(s.conf.PublicDir, s.cache)
		if err != nil {
			return err
		}
		s.watcher = w
	}

	s.serv = &http.Server{
		Addr:    address,
		Handler: http.HandlerFunc(s.handle),
	}

	return s.serv.ListenAndServe()
}

// Shutdown will try to shut the server down.
func (s *Server) Shutdown() error {
	defer func() {
		for i := range s.extensions {
			_ = s.extensions[i].Shutdown()
		}
	}()

	if s.watcher != nil {
		_ = s.watcher.close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	return s.serv.Shutdown(ctx)
}

// setupScript declares everything a page script can reach before it is
// compiled. Per request values are placeholders here and get bound on
// the compiled clones by bindGlobals and the extension hooks.
func (s *Server) setupScript(sc *script.Script) {
	sc.SetImports(stdlib.GetModuleMap(stdlib.AllModuleNames()...))
	sc.EnableFileImport(true)

	_ = sc.Add("PUB_DIR", s.conf.PublicDir)
	_ = sc.Add("esc", &objects.UserFunction{Value: escapeHTML})
	_ = sc.Add("die", &objects.UserFunction{Value: stopRequest()})
	_ = sc.Add("response", nil)
	_ = sc.Add("request", nil)

	for i := range s.extensions {
		for _, name := range s.extensions[i].Vars() {
			_ = sc.Add(name, nil)
		}
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	// Trim '.' and '/' from the path to stop traversal of higher
	// folders.
	path := strings.TrimLeft(filepath.Clean("/"+r.URL.Path), "./")

	if path == "" {
		path = s.conf.Index
	}

	// If the given path has no extension assume that a .esp page
	// is meant.
	if len(filepath.Ext(path)) == 0 {
		path += ".esp"
	}

	// Read the target file.
	data, err := ioutil.ReadFile(filepath.Join(s.conf.PublicDir, path))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	// If it's not a .esp page we just return the content of the file.
	if !strings.HasSuffix(path, ".esp") {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	s.servePage(w, r, data)
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request, page []byte) {
	// Transpile the page into a working script.
	source, err := TranspileWithInit(page, OutInitStatement)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var compiled *script.Compiled
	if s.conf.CacheScripts {
		hashSum, c, err := s.cache.get(source)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer s.cache.put(hashSum, c)
		compiled = c
	} else {
		c, err := s.cache.compile(source)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		compiled = c
	}

	// Parse POST form
	_ = r.ParseForm()

	statusCode := http.StatusOK
	si := &scriptInstance{
		script:     compiled,
		buf:        new(bytes.Buffer),
		req:        r,
		statusCode: &statusCode,
		respWriter: w,
	}

	if err := bindGlobals(si); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Call all extension hooks.
	for i := range s.extensions {
		if err := s.extensions[i].Hook(compiled, si.buf, w, r); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	// Run the page script. A die() call aborts the run but still sends
	// whatever was written so far.
	if err := compiled.Run(); err != nil && !isAbort(err) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(statusCode)
	_, _ = w.Write(si.buf.Bytes())
}

// isAbort reports whether a script run ended in die(). The runtime
// wraps the abort error, so it is matched by message.
func isAbort(err error) bool {
	return strings.Contains(err.Error(), requestedAbort.Error())
}
