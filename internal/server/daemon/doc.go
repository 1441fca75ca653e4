// Package daemon assembles a running deltamesh node from a DaemonConfig.
//
// A Daemon owns the property registry, the client directory, the Badger
// engine, the object persister, the sync scheduler and the admin HTTP
// server. Embedding programs register their properties, build objects
// with NewObject, restore them with Restore and hand them to the
// directory; the scheduler persists whatever becomes dirty.
package daemon
