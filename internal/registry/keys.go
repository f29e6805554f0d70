package registry

import "github.com/patchline/relay/internal/kv"

// Key layout of the registry's own records: client records and the
// controller directory. The leadership package (record.go) and the router
// (message queue keys in hub.go) define their own keys on the same
// kv.Store.
var (
	clientsPrefix     = kv.Key{"clients"}
	controllersPrefix = kv.Key{"controllers"}
)

func clientKey(id string) kv.Key {
	return kv.Key{"clients", id}
}

func controllerDirectoryKey(id string) kv.Key {
	return kv.Key{"controllers", id}
}
