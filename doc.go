/*
Package flowbot is a conversation flow engine for visually authored chatbots.

Bots are drawn as directed graphs of dialogue nodes in an editor. The engine compiles
a graph into a routing table, then runs stateless turns against it: each inbound end-user
message loads the session, walks the program until the next decision point, and commits
the new session state together with the history entries of the turn.

# Concept

A turn is deterministic given the program, the session snapshot, the input and the clock.
Turns of one session never overlap: the Engine holds a per-session lock (optionally a
distributed one) for the whole turn, and every commit is version checked.

The architecture is hexagonal. The interpreter is pure; storage, locking and the
webservice dispatcher are ports with memory, Redis and Postgres adapters.

# Usage

	eng, err := flowbot.New()
	if err != nil {
		log.Fatal(err)
	}

	// Compile and activate an editor graph
	if _, err := eng.Activate(ctx, graph); err != nil {
		log.Fatal(err)
	}

	// Handle an end-user message
	env, err := eng.HandleTurn(ctx, "bot-1", protocol.TurnRequest{Phone: "5511999990000", Text: "hi"})

The returned envelope is the exact wire response of the turn endpoint, including on failure.

# Webservice nodes

A webservice node parks the session under a correlation key and issues an outbound call
after the commit. The webservice answers through Resume with the same key.

# History

History returns the stored log grouped for display: consecutive cards coalesce into a
carousel and wait markers are dropped.
*/
package flowbot
