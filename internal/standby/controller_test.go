package standby

import (
	"testing"
	"time"

	"github.com/kartikbazzad/txcoord/internal/config"
	"github.com/kartikbazzad/txcoord/internal/types"
)

func TestControllerRecordsAndTriggersCompress(t *testing.T) {
	cfg := config.StandbyConfig{ControlInterval: 3, CompressLoadFactor: 0.9, CompressMinSpan: 1}
	ka := NewKnownAssigned(cfg, nil, nil, nil, nil)
	c, err := NewController(ka)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	for _, x := range []types.XID{1, 2, 3, 4} {
		c.RecordAndMaybeCompress(x)
	}

	time.Sleep(20 * time.Millisecond)

	if !ka.Search(3, false) {
		t.Fatal("expected recorded xid 3 to be present")
	}
}
