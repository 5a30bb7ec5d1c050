// Package sandbox manages the pool of containerized security tools.
//
// Each tool runs in its own sandbox: a container launched with
// `run --rm -i` whose stdio carries an MCP session, or a long-lived local
// service reached over loopback with the same tools/call shape. The
// Manager guarantees at most one sandbox per tool name, reuses running
// ones, retries failed calls with exponential backoff behind a forced
// container restart, and evicts sandboxes that sit idle.
//
// Tool names resolve to images through the Catalog, a YAML file that can
// be hot-reloaded while an engagement runs. Service entries (a VPN
// tunnel, a SOCKS proxy) stay resident and other sandboxes can join
// their network namespace so every scan egresses through the tunnel.
//
// Connection failures are classified from error text (the container
// transport gives us nothing structured) into timeout, refused,
// unreachable, and unknown classes; only the classes that plausibly heal
// with a fresh container are retried.
package sandbox
