package esp

// Config represents the settings of an esp server instance.
type Config struct {
	// PublicDir is the directory the pages and assets are served from.
	PublicDir string

	// Index is the page served for the root path. Defaults to
	// index.esp.
	Index string

	// CacheScripts keeps compiled page scripts in memory keyed by the
	// hash of their source.
	CacheScripts bool

	// WatchFiles drops the cached scripts when a file below PublicDir
	// changes. Only effective together with CacheScripts.
	WatchFiles bool
}
