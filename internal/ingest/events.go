package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
)

// eventLogPrefix is the fixed marker the contract logs before every
// structured event (spec §4.2 step 3, §6 "Event format").
const eventLogPrefix = "EVENT_JSON:"

// Event is the parsed envelope of one EVENT_JSON log line.
type Event struct {
	Standard string            `json:"standard"`
	Version  string            `json:"version"`
	Event    string            `json:"event"`
	Data     []json.RawMessage `json:"data"`
}

// parseEventLog extracts and decodes an EVENT_JSON line. Lines without the
// prefix, or with malformed JSON, are not events and are silently skipped.
func parseEventLog(line string) (Event, bool) {
	rest, ok := strings.CutPrefix(line, eventLogPrefix)
	if !ok {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal([]byte(rest), &ev); err != nil {
		return Event{}, false
	}
	return ev, true
}

// versionAtLeast reports whether v >= floor under numeric major.minor.patch
// comparison. Non-numeric or short components compare as 0. There is no
// ecosystem semver dependency actually exercised in the reference corpus,
// so this is a narrow, purpose-built comparator rather than a general
// semver library.
func versionAtLeast(v, floor string) bool {
	if floor == "" {
		return true
	}
	vp := splitVersion(v)
	fp := splitVersion(floor)
	for i := 0; i < 3; i++ {
		if vp[i] != fp[i] {
			return vp[i] > fp[i]
		}
	}
	return true
}

func splitVersion(v string) [3]int {
	var out [3]int
	parts := strings.SplitN(v, ".", 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			n = 0
		}
		out[i] = n
	}
	return out
}

// dataObject decodes Data[0] into dst, the common shape for every event
// this ingestor recognizes (spec §6: "data":[<obj>]).
func (e Event) dataObject(dst any) error {
	if len(e.Data) == 0 {
		return errEmptyEventData
	}
	return json.Unmarshal(e.Data[0], dst)
}
