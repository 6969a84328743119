package sandbox

import (
	"fmt"
	"net"
	"strconv"
)

// applicationID stamps every sandbox database ("SBDX").
const applicationID = 0x53424458

// Locator maps sandbox keys to database names. The mapping is pure, so the
// same key always addresses the same in-memory database.
type Locator struct {
	Host      string
	Port      int
	Prefix    string
	CacheSize int64 // bytes; zero keeps the engine default
}

func (l Locator) Namespace(key string) string {
	return l.Prefix + "_" + key
}

// URL is the human-facing address of a sandbox, used in logs and the
// registry.
func (l Locator) URL(key string) string {
	ns := l.Namespace(key)
	return fmt.Sprintf("sqlite://%s/%s;mem=%s", net.JoinHostPort(l.Host, strconv.Itoa(l.Port)), ns, ns)
}

// DSN is the driver connection string for key. Every connection to it
// shares one named in-memory database that lives until its last
// connection closes.
func (l Locator) DSN(key string) string {
	dsn := "file:" + l.Namespace(key) + "?mode=memory&cache=shared" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
	if l.CacheSize > 0 {
		// Negative cache_size is in KiB.
		dsn += fmt.Sprintf("&_pragma=cache_size(-%d)", l.CacheSize/1024)
	}
	return dsn
}
