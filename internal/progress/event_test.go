package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	runID := UUIDToBytes(uuid.New())
	now := time.Now()
	tests := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{name: "scan start", evt: Event{RunID: runID, TS: now, Kind: KindScanStart}},
		{name: "missing ts", evt: Event{RunID: runID, Kind: KindScanStart}, wantErr: true},
		{name: "scan without run", evt: Event{TS: now, Kind: KindScanDone}, wantErr: true},
		{name: "resolved without status", evt: Event{RunID: runID, TS: now, Kind: KindScanResolved}, wantErr: true},
		{name: "negative index", evt: Event{RunID: runID, TS: now, Kind: KindScanTesting, Index: -1}, wantErr: true},
		{name: "loader stage", evt: Event{TS: now, Kind: KindLoaderStage, Status: "proxied"}},
		{name: "loader stage empty", evt: Event{TS: now, Kind: KindLoaderStage}, wantErr: true},
		{name: "loader failed", evt: Event{TS: now, Kind: KindLoaderFailed}},
		{name: "negative dur", evt: Event{TS: now, Kind: KindLoaderLoaded, Dur: -time.Second}, wantErr: true},
		{name: "unknown", evt: Event{TS: now, Kind: "NOPE"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseRunID(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	require.Equal(t, UUIDToBytes(id), ParseRunID(id.String()))
	require.Equal(t, id, Event{RunID: ParseRunID(id.String())}.RunUUID())
	require.Equal(t, [16]byte{}, ParseRunID("not-a-uuid"))
}

func TestSiteOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "img.example", SiteOf("https://IMG.example:8443/a.jpg"))
	require.Equal(t, "", SiteOf("data:image/png;base64,AAAA"))
	require.Equal(t, "", SiteOf("http://%"))
	require.Equal(t, "", SiteOf(""))
}
