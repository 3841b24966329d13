// Package control defines the provisioning protocol spoken between the
// foreground application and the caching proxy: pack download, pack delete and
// storage usage. Every Command carries its own reply channel and receives
// exactly one Reply.
package control
