// Package progress carries download progress events from the proxy to
// pluggable sinks. Events are batched on a background goroutine so emitters on
// the streaming path never block.
package progress
