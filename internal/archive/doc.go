/*
Package archive persists completed episode runs in a sqlite database
through GORM.

Each run is stored as a RunRecord: indexed columns for the fields
queries filter on (run id, episode, track, verdict) plus the full
episode.Result as a JSON payload, so a saved run can be rehydrated and
re-scored exactly. The driver is pure Go (glebarez/sqlite), so the
archive needs no cgo and ":memory:" works in tests.
*/
package archive
