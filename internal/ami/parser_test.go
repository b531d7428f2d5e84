package ami_test

import (
	"strings"
	"testing"

	"github.com/callwatch/callwatch/internal/ami"
)

const rawStream = "Asterisk Call Manager/9.0.0\r\n" +
	"Event: Newchannel\r\n" +
	"Uniqueid: 1700000000.10\r\n" +
	"Linkedid: 1700000000.10\r\n" +
	"Channel: SIP/1001-00000001\r\n" +
	"CallerIDNum: 1001\r\n" +
	"CallerIDName: Front Desk\r\n" +
	"Context: from-internal\r\n" +
	"Exten: 2002\r\n" +
	"\r\n" +
	"Event: Newstate\r\n" +
	"Uniqueid: 1700000000.10\r\n" +
	"ChannelState: 6\r\n" +
	"ChannelStateDesc: Up\r\n" +
	"\r\n" +
	"Event: Hangup\r\n" +
	"Uniqueid: 1700000000.10\r\n" +
	"Cause: 16\r\n" +
	"Cause-txt: Normal Clearing\r\n" +
	"\r\n"

func TestParseStream(t *testing.T) {
	events := ami.ParseBytes([]byte(rawStream))

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type() != "Newchannel" {
		t.Errorf("expected first event Newchannel, got %q", events[0].Type())
	}
	if events[0].Get("CallerIDNum") != "1001" {
		t.Errorf("expected CallerIDNum=1001, got %q", events[0].Get("CallerIDNum"))
	}
	if events[0].Get("CallerIDName") != "Front Desk" {
		t.Errorf("expected CallerIDName=Front Desk, got %q", events[0].Get("CallerIDName"))
	}
	if events[2].GetInt("Cause") != 16 {
		t.Errorf("expected Cause=16, got %d", events[2].GetInt("Cause"))
	}
}

func TestParseSkipsBanner(t *testing.T) {
	events := ami.ParseBytes([]byte(rawStream))
	for _, e := range events {
		if e.Type() == "" {
			t.Errorf("banner line leaked into events: %+v", e.Headers())
		}
	}
}

func TestParsePendingEventAtEOF(t *testing.T) {
	// No trailing blank line — the last event must still be emitted.
	raw := "Event: Hangup\r\nUniqueid: 42.1\r\nCause: 17\r\n"
	events := ami.ParseBytes([]byte(raw))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Get("Uniqueid") != "42.1" {
		t.Errorf("expected Uniqueid=42.1, got %q", events[0].Get("Uniqueid"))
	}
}

func TestGetCaseInsensitive(t *testing.T) {
	evt := ami.NewEvent("Event", "Hangup", "UniqueID", "77.0", "ConnectedLineNum", "15550001234")
	if got := evt.Get("Uniqueid"); got != "77.0" {
		t.Errorf("expected case-insensitive Uniqueid=77.0, got %q", got)
	}
	if got := evt.Get("connectedlinenum"); got != "15550001234" {
		t.Errorf("expected connectedlinenum=15550001234, got %q", got)
	}
}

func TestGetAny(t *testing.T) {
	evt := ami.NewEvent("Event", "Hangup", "Linkedid", "9.1")
	if got := evt.GetAny("Uniqueid", "Linkedid"); got != "9.1" {
		t.Errorf("expected alias fallback to Linkedid, got %q", got)
	}
	if got := evt.GetAny("Nope", "AlsoNope"); got != "" {
		t.Errorf("expected empty for unknown keys, got %q", got)
	}
}

func TestParserNextStreaming(t *testing.T) {
	p := ami.NewParser(strings.NewReader(rawStream))
	count := 0
	for {
		_, ok := p.Next()
		if !ok {
			break
		}
		count++
	}
	if count != 3 {
		t.Fatalf("expected 3 events streamed, got %d", count)
	}
}
