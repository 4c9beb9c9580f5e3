package cache

import "testing"

func TestKeys(t *testing.T) {
	if got := ReadSeqKey(1, 2, 3); got != "im:readseq:1:2:3" {
		t.Errorf("ReadSeqKey = %q", got)
	}
	if got := RoomsKey(7); got != "im:rooms:7" {
		t.Errorf("RoomsKey = %q", got)
	}
	if got := EventsChannel(7); got != "im:events:7" {
		t.Errorf("EventsChannel = %q", got)
	}
}
