// Package app composes the NeedFul API server: it builds the Supabase
// client, repository, cache, storage buckets and completion client from
// configuration, mounts every service under /api and manages the lifecycle
// of the HTTP server, the job scheduler and the realtime listener.
//
// Business rules live in services/; this package only wires them.
package app
