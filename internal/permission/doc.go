// Package permission gates sensitive orchestrator actions behind operator
// approval. It is the veto point between an AI agent deciding to run a
// security tool and that tool actually executing inside a sandbox.
//
// # Overview
//
// Every sensitive action is described by a Request carrying an action type
// (e.g. "mcp_tool"), a set of wildcard keys scoping what is being asked,
// and display context for the operator. Ask blocks the caller until the
// operator answers, a policy hook decides, or the request is already
// covered by a standing approval.
//
// # Effective Sessions
//
// Requests are stored under the root session of the asking session, as
// resolved by the session hierarchy. A sub-agent three levels deep asking
// to run nmap surfaces in the top-level engagement's queue, attributed via
// SourceSessionID and AgentName. This is what keeps a whole sub-agent tree
// behind one human-facing approval queue.
//
// # Wildcard Keys and Coverage
//
// An approval key is a string where '*' matches any run of characters:
//
//   - "mcp:nmap:scan" - one specific tool method
//   - "mcp:nmap:*"    - any nmap method
//   - "shell:git:*"   - any git subcommand in a sandbox shell
//   - "*"             - anything at all
//
// A request is covered when every key it asks for matches at least one
// pattern in the session's approval set. Coverage is computed with Match
// and Covered; the approval set stores patterns, never literal lookups.
//
// # Replies
//
// Respond answers a pending request with one of three replies:
//
//   - once:   resolve the request, remember nothing
//   - always: resolve the request and add its keys to the approval set,
//     then auto-approve every other pending request in the session that
//     the grown set now covers (cascading approval)
//   - reject: fail the request with *RejectedError
//
// Cascading means approving "mcp:nmap:*" once silently clears every other
// queued nmap request in the same batch, instead of making the operator
// click through each one.
//
// # Shell Commands
//
// Shell invocations inside sandboxes are parsed with mvdan.cc/sh so a
// command line like "nmap -sV target && git clone repo" yields the keys
// ["shell:nmap", "shell:git:clone"]. Dynamic command names collapse to the
// bare "shell" key and destructive commands are flagged for display.
//
// # Repeat Guard
//
// RepeatDetector watches for an agent re-issuing the exact same tool call
// several times in a row, which usually means it is stuck. The third
// identical call trips the guard and the orchestrator demands a fresh
// approval of type "repeat" before continuing.
//
// # Events
//
// The service publishes permission.updated when a request becomes pending
// and permission.replied when it is answered, including answers produced
// by cascading approvals and forced teardown. Subscribers (SSE stream,
// background task tracker) never block the service.
//
// # Shutdown
//
// TeardownAll force-rejects everything still pending so no goroutine is
// left blocked in Ask when the orchestrator exits. Ask also honors its
// context and withdraws the pending entry on cancellation.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Pending requests hold
// buffered one-shot channels, so Respond never blocks on a caller that
// already gave up.
package permission
