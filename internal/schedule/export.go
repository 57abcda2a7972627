/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule renders expanded flow occurrences as iCalendar data
// for import into external calendar tools.
package schedule

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/bragi_flows/internal/flows"
)

const prodID = "-//Friends Incode//Bragi Flows//EN"

// ExportICal renders occurrences as an iCalendar document. calName is
// the X-WR-CALNAME shown by calendar clients.
func ExportICal(calName string, occurrences []flows.UpcomingOccurrence, generatedAt time.Time) []byte {
	var buf bytes.Buffer

	writeLine(&buf, "BEGIN:VCALENDAR")
	writeLine(&buf, "VERSION:2.0")
	writeLine(&buf, "PRODID:"+prodID)
	writeLine(&buf, "CALSCALE:GREGORIAN")
	writeLine(&buf, "X-WR-CALNAME:"+escapeText(calName))

	for _, occ := range occurrences {
		writeLine(&buf, "BEGIN:VEVENT")
		// One occurrence of one flow is stable under re-export as long
		// as the start does not move.
		writeLine(&buf, fmt.Sprintf("UID:%s-%s@bragi-flows", occ.FlowID, occ.Occurrence.Start.UTC().Format("20060102T150405Z")))
		writeLine(&buf, "DTSTAMP:"+formatTime(generatedAt))
		writeLine(&buf, "DTSTART:"+formatTime(occ.Occurrence.Start))
		if occ.Occurrence.OpenEnded {
			// No reliable end; let the client show a point event.
			writeLine(&buf, "DESCRIPTION:"+escapeText("Open-ended; runs until stopped."))
		} else {
			writeLine(&buf, "DTEND:"+formatTime(occ.Occurrence.End))
		}
		writeLine(&buf, "SUMMARY:"+escapeText(occ.FlowName))
		if occ.Priority != 0 {
			writeLine(&buf, fmt.Sprintf("X-BRAGI-PRIORITY:%d", occ.Priority))
		}
		writeLine(&buf, "END:VEVENT")
	}

	writeLine(&buf, "END:VCALENDAR")
	return buf.Bytes()
}

func formatTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// writeLine appends an iCal content line with CRLF folding at 75 octets.
func writeLine(buf *bytes.Buffer, line string) {
	for len(line) > 75 {
		buf.WriteString(line[:75])
		buf.WriteString("\r\n ")
		line = line[75:]
	}
	buf.WriteString(line)
	buf.WriteString("\r\n")
}

func escapeText(s string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\n", "\\n",
	)
	return replacer.Replace(s)
}
