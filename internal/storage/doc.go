// Package storage provides backbone's optional persistence layer.
//
// The Store interface covers the two things that need to outlive the
// process: the archive of terminal jobs and the token revocation set.
// With driver "none" (the default) everything stays in memory and the
// services degrade gracefully.
package storage
