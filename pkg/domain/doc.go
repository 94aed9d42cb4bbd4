/*
Package domain contains the core domain models of the flowbot conversation engine.

It defines the authored graph (Nodes and Edges as saved by the visual editor), its
compiled routing form (Program and the Option table), the per-conversation Session,
and the History log. This package is kept pure and free of external dependencies
like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - Node: A dialogue step. Its Data is a closed set of variants keyed by NodeType.
  - Edge: A directed connection between nodes, optionally leaving through a handle.
  - Option: One compiled routing rule (equals, time_range or default).
  - Program: The runnable form of a Graph (entry node, links, option table).
  - Session: The runtime pointer and variables of one conversation.
  - HistoryEntry: One persisted message or marker of a conversation.
*/
package domain
