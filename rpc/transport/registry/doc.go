// Package registry keeps the set of live connections of a reactor, indexed
// by socket descriptor and by peer endpoint.
//
// Lookups return connections with a reference taken; callers release it
// when done. Removal unregisters first and closes second, so once a
// descriptor number is handed out again by the kernel the registry no longer
// knows the old connection under it. When the process runs out of
// descriptors, RemoveInactive evicts idle connections, least recently used
// first.
package registry
