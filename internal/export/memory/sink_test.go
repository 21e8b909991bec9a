package memory

import (
	"context"
	"testing"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/aggregator"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
)

var (
	_ aggregator.Exporter = (*Sink)(nil)
	_ aggregator.Notifier = (*Sink)(nil)
)

func TestSinkRecordsExportsAndNotices(t *testing.T) {
	t.Parallel()

	sink := New()
	uri, err := sink.Export(context.Background(), &census.CombinedTable{Fields: []string{"population"}}, "")
	if err != nil || uri != "memory://1" {
		t.Fatalf("unexpected export result uri=%s err=%v", uri, err)
	}
	if err := sink.Notify(context.Background(), aggregator.Notice{RunID: "run-1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if got := sink.Tables(); len(got) != 1 || got[0].Fields[0] != "population" {
		t.Fatalf("tables not recorded: %+v", got)
	}
	notices := sink.Notices()
	if len(notices) != 1 || notices[0].RunID != "run-1" {
		t.Fatalf("notices not recorded: %+v", notices)
	}

	notices[0].RunID = "modified"
	if sink.Notices()[0].RunID == "modified" {
		t.Fatal("expected Notices() to return a copy")
	}
}
