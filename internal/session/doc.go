// Package session records relay connection sessions in SQLite.
//
// Every device and app connection produces one row: admitted connections
// are opened on admission and closed with the WebSocket close code and
// reason when they end; rejected admissions are written already closed,
// carrying the rejection reason. Rows identify the home token only by its
// fingerprint (auth.Fingerprint), so the table never holds credentials.
package session
