/*
Package timeout supervises in-flight messages that expect a reply.

A Tracker holds one pending entry per message ID. A single watchdog goroutine
sweeps the entries at a fixed interval and fires the expiry callback of every
entry past its deadline. Acknowledging an entry and expiring it are mutually
exclusive: whichever removes the entry first wins, so a callback never fires
for an acknowledged message.

Timeouts are cooperative. The tracker never cancels the work it supervises; it
only reports that the deadline passed.
*/
package timeout
