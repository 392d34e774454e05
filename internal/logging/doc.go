// Package logging configures structured JSON logging for crawldex.
//
// The ingestion job writes one log file per day (<dir>/<yyyy_MM_dd>_parser.log)
// and the HTTP service writes <dir>/server.log. Both files rotate by size.
// The Viewer reads those files back for the `crawldex logs` command.
package logging
