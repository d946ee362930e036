/*
Package probe provides the stream-reachability checkers used by
pkg/streammonitor (spec.md §4.9): "open the URL, read a few frames,
close".

ForURL picks an HTTPChecker for http(s) and HLS playlist URLs, or a
TCPChecker for rtsp:// and bare host:port addresses. Both report a
Result with Online/Message/Duration; streammonitor flips a Stream's
online flag based on Result.Online.
*/
package probe
