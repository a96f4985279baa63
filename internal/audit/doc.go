// Package audit records who changed what on the hub: device enablement
// and Homie settings. Entries live in the change_log table of the
// settings database and are listed newest first.
package audit
