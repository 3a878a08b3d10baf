// Package session implements the session controller: the single owner of
// the audio devices that runs one emit or listen session at a time.
//
// A session acquires its device when it starts and releases it on every
// exit path before the controller returns to idle. Requests made while a
// session is active are rejected immediately with ErrSessionAlreadyActive.
// Stop cancels the active session and waits for that release.
package session
