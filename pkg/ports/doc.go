/*
Package ports defines the driven ports (interfaces) of the flowbot engine.

These interfaces decouple the conversation core from storage, locking and
outbound transport, so the same engine runs on memory, Redis or Postgres.

# Key Interfaces

  - GraphStore: persists compiled programs, one active program per bot.
  - SessionStore: persists sessions and their history with an atomic, versioned commit.
  - DistributedLocker: serializes turns of one session across replicas.
  - Dispatcher: issues the outbound call of a session parked on a webservice node.

RunSessionStoreContract and RunGraphStoreContract verify adapters against the
behavior the engine relies on.
*/
package ports
