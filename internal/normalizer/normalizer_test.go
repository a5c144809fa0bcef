package normalizer

import (
	"testing"
	"time"

	"wisefido-alarm-stats/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 20, 10, 30, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return New(WithClock(func() time.Time { return fixedNow }))
}

func TestNormalize_CanonicalShape(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.Normalize([]byte(`{
		"id": "evt-1",
		"level": "warning",
		"type": "FAN_FAILURE",
		"location": "Tunnel-3",
		"message": "fan stopped",
		"timestamp": "2024-05-20T10:00:00Z",
		"arrivedAt": "2024-05-20T10:01:00.500Z"
	}`), "")
	require.NoError(t, err)

	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, models.LevelWarn, ev.Level)
	assert.Equal(t, "FAN_FAILURE", ev.Type)
	assert.Equal(t, "Device", ev.Category())
	assert.Equal(t, "Tunnel-3", ev.Location)
	assert.Equal(t, "fan stopped", ev.Message)
	assert.Equal(t, "2024-05-20T10:00:00Z", ev.Timestamp)
	assert.True(t, ev.ArrivedAt.Equal(time.Date(2024, 5, 20, 10, 1, 0, 500_000_000, time.UTC)))
}

func TestNormalize_UnparseableJSON(t *testing.T) {
	n := newTestNormalizer()

	_, err := n.Normalize([]byte(`{"id": "broken"`), "")
	require.Error(t, err)

	_, err = n.Normalize([]byte(`[1,2,3]`), "")
	require.Error(t, err)
}

func TestNormalize_UnknownLevelBecomesInfo(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.Normalize([]byte(`{"id":"a","level":"panic"}`), "")
	require.NoError(t, err)
	assert.Equal(t, models.LevelInfo, ev.Level)

	ev, err = n.Normalize([]byte(`{"id":"b","level":" critical "}`), "")
	require.NoError(t, err)
	assert.Equal(t, models.LevelCritical, ev.Level)
}

func TestNormalize_ArrivalFallbackChain(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name    string
		payload string
		want    time.Time
	}{
		{
			name:    "explicit arrival wins",
			payload: `{"id":"1","arrivedAt":"2024-05-20T09:00:00Z","createdAt":"2024-05-20T08:00:00Z","timestamp":"2024-05-20T07:00:00Z"}`,
			want:    time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC),
		},
		{
			name:    "created at when arrival malformed",
			payload: `{"id":"2","arrivedAt":"not-a-time","createdAt":"2024-05-20T08:00:00Z","timestamp":"2024-05-20T07:00:00Z"}`,
			want:    time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC),
		},
		{
			name:    "origin timestamp",
			payload: `{"id":"3","timestamp":"2024-05-20T07:00:00Z"}`,
			want:    time.Date(2024, 5, 20, 7, 0, 0, 0, time.UTC),
		},
		{
			name:    "epoch milliseconds",
			payload: `{"id":"4","timestamp":1716192000000}`,
			want:    time.UnixMilli(1716192000000).UTC(),
		},
		{
			name:    "epoch seconds",
			payload: `{"id":"5","createdAt":1716192000}`,
			want:    time.Unix(1716192000, 0).UTC(),
		},
		{
			name:    "zone-less ISO is UTC",
			payload: `{"id":"6","createdAt":"2024-05-20T06:15:00"}`,
			want:    time.Date(2024, 5, 20, 6, 15, 0, 0, time.UTC),
		},
		{
			name:    "NaN falls back to ingestion time",
			payload: `{"id":"8","timestamp":"NaN"}`,
			want:    fixedNow,
		},
		{
			name:    "infinite created at does not hide timestamp",
			payload: `{"id":"9","createdAt":"inf","timestamp":"2024-05-20T07:00:00Z"}`,
			want:    time.Date(2024, 5, 20, 7, 0, 0, 0, time.UTC),
		},
		{
			name:    "Infinity arrival falls through",
			payload: `{"id":"10","arrivedAt":"Infinity","createdAt":"2024-05-20T08:00:00Z"}`,
			want:    time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC),
		},
		{
			name:    "overflowing epoch falls back to ingestion time",
			payload: `{"id":"11","timestamp":1e300}`,
			want:    fixedNow,
		},
		{
			name:    "ingestion time when nothing parses",
			payload: `{"id":"7","timestamp":"yesterday"}`,
			want:    fixedNow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := n.Normalize([]byte(tt.payload), "")
			require.NoError(t, err)
			assert.True(t, ev.ArrivedAt.Equal(tt.want), "got %s want %s", ev.ArrivedAt, tt.want)
		})
	}
}

func TestNormalize_MalformedTimestampIsKeptAsReported(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.Normalize([]byte(`{"id":"x","timestamp":"yesterday"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "yesterday", ev.Timestamp)
	assert.True(t, ev.ArrivedAt.Equal(fixedNow))
}

func TestNormalize_DeviceShape(t *testing.T) {
	n := newTestNormalizer()

	payload := []byte(`{
		"Target": "Plant\\Cooling\\Fan-07\\FAN_FAILURE\\Alarm",
		"TagInfo": "tag",
		"Value": {"Message": "Fan stopped", "Priority": 9, "TargetName": "Fan 7"}
	}`)
	raw, err := ParseRaw(payload)
	require.NoError(t, err)
	require.True(t, IsAlarmLike(raw, "plant/alarms"))

	ev := n.NormalizeRaw(raw, "plant/alarms")
	assert.Equal(t, models.LevelCritical, ev.Level)
	assert.Equal(t, "FAN_FAILURE", ev.Type)
	assert.Equal(t, "Fan 7", ev.Location)
	assert.Equal(t, "Fan stopped", ev.Message)
	assert.Equal(t, "Cooling", ev.System)
	assert.Equal(t, "Fan-07", ev.Device)
	assert.Equal(t, "FAN_FAILURE", ev.Point)
	assert.True(t, ev.ArrivedAt.Equal(fixedNow))
	assert.Equal(t, "Plant/Cooling/Fan-07/FAN_FAILURE/Alarm@2024-05-20T10:30:00Z", ev.ID)
}

func TestNormalize_PriorityLevels(t *testing.T) {
	n := newTestNormalizer()

	for payload, want := range map[string]models.Level{
		`{"Target":"a/b/Alarm","Value":{"Priority":8}}`: models.LevelCritical,
		`{"Target":"a/b/Alarm","Value":{"Priority":4}}`: models.LevelWarn,
		`{"Target":"a/b/Alarm","Value":{"Priority":3}}`: models.LevelInfo,
		`{"Target":"a/b/Alarm"}`:                        models.LevelInfo,
	} {
		ev, err := n.Normalize([]byte(payload), "")
		require.NoError(t, err)
		assert.Equal(t, want, ev.Level, payload)
	}
}

func TestNormalize_LocationPrefersShortName(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.Normalize([]byte(`{"id":"l1","location":"Site/Line-1/Pump-2","value":{"targetName":"Pump 2"}}`), "")
	require.NoError(t, err)
	assert.Equal(t, "Pump 2", ev.Location)

	ev, err = n.Normalize([]byte(`{"id":"l2","target":"Site/Line-1/Pump-2/LOW_PRESSURE/Alarm"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "Pump-2", ev.Location)

	ev, err = n.Normalize([]byte(`{"id":"l3"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "Unknown", ev.Location)
}

func TestNormalize_SnapshotRowShape(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.Normalize([]byte(`{
		"id": "row-1",
		"system": "HVAC",
		"device": "AHU-1",
		"point": "Filter",
		"location": "Roof",
		"level": "INFO",
		"message": "",
		"createdAt": "2024-05-20T09:59:00Z"
	}`), "")
	require.NoError(t, err)

	assert.Equal(t, "HVAC", ev.System)
	assert.Equal(t, "AHU-1", ev.Device)
	assert.Equal(t, "Filter", ev.Point)
	assert.Equal(t, "Roof", ev.Location)
	assert.Equal(t, "", ev.Message)
	assert.Equal(t, "GENERIC", ev.Type)
	assert.True(t, ev.ArrivedAt.Equal(time.Date(2024, 5, 20, 9, 59, 0, 0, time.UTC)))
}

func TestNormalize_SynthesizedIDIsStableForIdenticalInput(t *testing.T) {
	n := newTestNormalizer()
	payload := []byte(`{"target":"S/SYS/DEV/PT/Alarm","timestamp":"2024-05-20T08:00:00Z"}`)

	a, err := n.Normalize(payload, "")
	require.NoError(t, err)
	b, err := n.Normalize(payload, "")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "S/SYS/DEV/PT/Alarm@2024-05-20T08:00:00Z", a.ID)
}

func TestNormalize_NumericID(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.Normalize([]byte(`{"id":42,"level":"INFO"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "42", ev.ID)
}

func TestIsAlarmLike(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		topic   string
		want    bool
	}{
		{"canonical with id", `{"id":"a"}`, "", true},
		{"target ends with alarm", `{"Target":"x/y/Alarm"}`, "", true},
		{"topic ends with alarm", `{"Value":12.5}`, "site/dev/alarm", true},
		{"value message", `{"Target":"x/y/Temp","Value":{"Message":"hot"}}`, "", true},
		{"numeric priority", `{"Target":"x/y/Temp","Value":{"Priority":2}}`, "", true},
		{"plain telemetry", `{"Target":"x/y/Temp","Value":21.5}`, "site/telemetry", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := ParseRaw([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, IsAlarmLike(raw, tt.topic))
		})
	}
}
