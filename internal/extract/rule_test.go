package extract

import "testing"

func TestRuleCapture(t *testing.T) {
	rule := NewRule("peers=", `peers=(\d+)`)

	tests := []struct {
		name   string
		line   string
		want   string
		wantOK bool
	}{
		{"match", "Looking for peers peers=12 tried=3", "12", true},
		{"marker missing", "peer count is 12", "", false},
		{"marker present pattern fails", "peers=abc", "", false},
		{"first match wins", "peers=3 peers=4", "3", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := rule.Capture(tt.line)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Capture(%q) = %q, %v, want %q, %v", tt.line, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRuleCaptureAlternation(t *testing.T) {
	rule := NewRule("msg=", `msg="([^"]+)"|msg=(\S+)`)

	if got, ok := rule.Capture(`msg="quoted text" x=1`); !ok || got != "quoted text" {
		t.Errorf("quoted capture = %q, %v", got, ok)
	}
	if got, ok := rule.Capture(`msg=bare x=1`); !ok || got != "bare" {
		t.Errorf("bare capture = %q, %v", got, ok)
	}
}

func TestExecutionClientExtractors(t *testing.T) {
	chainLine := `INFO [10-19|12:00:01.000] Syncing: chain download in progress synced=41.15% chain=512.00GiB headers=9,923,503@3.01GiB bodies=9,900,000@300GiB eta=20h35m12.345s`
	stateLine := `INFO [10-19|12:00:02.000] Syncing: state download in progress synced=2.32% state=10.00GiB accounts=1,000@100MiB eta=273h13m1.000s`
	peersLine := `INFO [10-19|12:00:03.000] Looking for peers peercount=4 tried=12 static=0 peers=25`

	if v, ok := ChainSynced.Extract(chainLine); !ok || v != 41.15 {
		t.Errorf("ChainSynced = %v, %v, want 41.15", v, ok)
	}
	if v, ok := ChainETA.Extract(chainLine); !ok || v != "20h35m" {
		t.Errorf("ChainETA = %q, %v, want 20h35m", v, ok)
	}
	if v, ok := BlockHeight.Extract(chainLine); !ok || v != 9923503 {
		t.Errorf("BlockHeight = %v, %v, want 9923503", v, ok)
	}
	if v, ok := StateSynced.Extract(stateLine); !ok || v != 2.32 {
		t.Errorf("StateSynced = %v, %v, want 2.32", v, ok)
	}
	if v, ok := StateETA.Extract(stateLine); !ok || v != "273h13m" {
		t.Errorf("StateETA = %q, %v, want 273h13m", v, ok)
	}
	if v, ok := Peers.Extract(peersLine); !ok || v != 25 {
		t.Errorf("Peers = %v, %v, want 25", v, ok)
	}

	// The chain marker does not gate state extractors and vice versa
	if _, ok := StateSynced.Extract(chainLine); ok {
		t.Error("StateSynced matched a chain download line")
	}
	if _, ok := ChainSynced.Extract(stateLine); ok {
		t.Error("ChainSynced matched a state download line")
	}
}

func TestETAFallback(t *testing.T) {
	line := "chain download in progress synced=99.00% eta=45.5s"
	if v, ok := ChainETA.Extract(line); !ok || v != "45.5s" {
		t.Errorf("ChainETA = %q, %v, want 45.5s", v, ok)
	}
}

func TestConsensusClientExtractors(t *testing.T) {
	slotLine := `time="2024-10-19 12:00:00" level=info msg="Synced new block" currentSlot=13347610 prefix=blockchain`
	quotedSlot := `time="2024-10-19 12:00:00" level=info msg="Processing" currentSlot="13347611"`
	peerLine := `time="2024-10-19 12:00:00" level=info msg="Connected peers" inboundQUIC=17 inboundTCP=1 outboundQUIC=6 outboundTCP=13 prefix=p2p`

	if v, ok := CurrentSlot.Extract(slotLine); !ok || v != 13347610 {
		t.Errorf("CurrentSlot = %v, %v, want 13347610", v, ok)
	}
	if v, ok := CurrentSlot.Extract(quotedSlot); !ok || v != 13347611 {
		t.Errorf("CurrentSlot quoted = %v, %v, want 13347611", v, ok)
	}

	counts := map[string]struct {
		e    Extractor[int64]
		want int64
	}{
		"inboundQUIC":  {InboundQUIC, 17},
		"inboundTCP":   {InboundTCP, 1},
		"outboundQUIC": {OutboundQUIC, 6},
		"outboundTCP":  {OutboundTCP, 13},
	}
	for name, c := range counts {
		if v, ok := c.e.Extract(peerLine); !ok || v != c.want {
			t.Errorf("%s = %v, %v, want %d", name, v, ok, c.want)
		}
	}

	// Sub-counts are only read from connected-peer summaries
	if _, ok := InboundQUIC.Extract("inboundQUIC=5"); ok {
		t.Error("InboundQUIC matched a line without the Connected peers marker")
	}
}

func TestIntAcceptsThousandsSeparators(t *testing.T) {
	e := Int("n", NewRule("n=", `n=(\d[\d,]*)`))
	if v, ok := e.Extract("n=1,234,567"); !ok || v != 1234567 {
		t.Errorf("Extract = %v, %v, want 1234567", v, ok)
	}
}

func TestFloatRejectsGarbage(t *testing.T) {
	e := Float("f", NewRule("f=", `f=(\S+)`))
	if _, ok := e.Extract("f=notanumber"); ok {
		t.Error("Float extracted a non-numeric capture")
	}
}
