// Package cache defines the durable, named key->response storage used by the
// proxy. A Storage holds many Stores, one per "{kind}-{generation tag}" name;
// each Store maps a normalized request identity to a stored response. Two
// backends exist: a filesystem layout (StoragePath/<store>/<sha1>.entry, temp
// file + rename) and a single sqlite database. Failures surface as
// *StorageError so callers can degrade to network-only behaviour.
package cache
