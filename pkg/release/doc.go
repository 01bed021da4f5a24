// Package release runs release approvals.
//
// Two distinct admins approve a release; a single reject decides it. Each
// admin casts at most one decision per release and cannot change it.
package release
