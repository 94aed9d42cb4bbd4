/*
Package session implements session management and persistence orchestration.

The Manager serializes turns of the same (bot, phone) pair with an in-process
ref-counted mutex and, when configured, a distributed lock shared by replicas.
Commits are versioned: a turn computed from version N only persists as N+1.
*/
package session
