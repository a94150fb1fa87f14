package resources

import (
	"errors"
	"testing"
	"time"

	"owl-care/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustGet(t *testing.T, name string) *Descriptor {
	t.Helper()
	d, ok := NewRegistry(Options{}).Get(name)
	require.True(t, ok, name)
	return d
}

func TestNormalize(t *testing.T) {
	d := mustGet(t, Vitals)

	cases := []struct {
		field   string
		in      any
		want    any
		wantErr bool
	}{
		{"temperature", "36.5", "36.5", false},
		{"temperature", " 37 ", "37", false},
		{"temperature", "", "", false},
		{"temperature", "hot", nil, true},
		{"pulseRate", 75, 75.0, false},
		{"pulseRate", "72", 72.0, false},
		{"pulseRate", "", nil, false},
		{"pulseRate", 400.0, nil, true},
		{"pulseRate", true, nil, true},
		{"spo2", nil, nil, false},
		{"timing", "noon", nil, true},
		{"date", "2024-13-01", nil, true},
		{"unknownField", "x", nil, true},
		{"residentId", nil, nil, true},
		{"date", nil, nil, true},
	}
	for _, tc := range cases {
		got, err := d.Normalize(tc.field, tc.in)
		if tc.wantErr {
			var fe *FieldError
			assert.True(t, errors.As(err, &fe), "%s=%v", tc.field, tc.in)
			continue
		}
		require.NoError(t, err, "%s=%v", tc.field, tc.in)
		assert.Equal(t, tc.want, got, "%s=%v", tc.field, tc.in)
	}
}

func TestNormalize_NullOnRequiredField(t *testing.T) {
	for _, tc := range []struct{ resource, field string }{
		{Vitals, "residentId"},
		{Vitals, "date"},
		{Bathing, "residentId"},
		{Rounds, "residentId"},
		{Residents, "name"},
		{Staff, "name"},
	} {
		_, err := mustGet(t, tc.resource).Normalize(tc.field, nil)
		var fe *FieldError
		require.True(t, errors.As(err, &fe), "%s.%s", tc.resource, tc.field)
		assert.Equal(t, tc.field, fe.Field)
		assert.Equal(t, "is required", fe.Message)
	}
}

func TestCheckOwner(t *testing.T) {
	d := mustGet(t, Bathing)
	blank := domain.Record{ID: "tmp~x", Dimension: domain.Dimension{Date: "2024-01-01", Slot: TimingAdhoc}}

	err := d.CheckOwner(blank, "bathingType")
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "bathingType", fe.Field)

	assert.NoError(t, d.CheckOwner(blank, "residentId"))
	blank.Owner = "R1"
	assert.NoError(t, d.CheckOwner(blank, "bathingType"))
}

func TestWireRoundTrip(t *testing.T) {
	d := mustGet(t, Vitals)
	rec, err := d.FromWire(map[string]any{
		"id":          "v-123",
		"residentId":  "R1",
		"date":        "2024-01-01T00:00:00Z",
		"timing":      "morning",
		"temperature": "36.5",
		"pulseRate":   70.0,
		"tags":        []any{"a"},
	})
	require.NoError(t, err)
	assert.Equal(t, "v-123", rec.ID)
	assert.Equal(t, "R1", rec.Owner)
	assert.Equal(t, domain.Dimension{Date: "2024-01-01", Slot: "morning"}, rec.Dimension)
	assert.Equal(t, "36.5", rec.Fields["temperature"])
	assert.Equal(t, `["a"]`, rec.Fields["tags"])
	_, hasOwner := rec.Fields["residentId"]
	assert.False(t, hasOwner)

	wire := d.ToWire(rec)
	assert.Equal(t, "R1", wire["residentId"])
	assert.Equal(t, "2024-01-01", wire["date"])
	assert.Equal(t, "morning", wire["timing"])
	assert.NotContains(t, wire, "id")
}

func TestFromWire_RejectsMissingOrPlaceholderID(t *testing.T) {
	d := mustGet(t, Staff)
	_, err := d.FromWire(map[string]any{"name": "A"})
	assert.Error(t, err)
	_, err = d.FromWire(map[string]any{"id": "tmp~a~b~c~1"})
	assert.Error(t, err)

	rec, err := d.FromWire(map[string]any{"id": 42.0, "name": "A"})
	require.NoError(t, err)
	assert.Equal(t, "42", rec.ID)
}

func TestRounds_NumericHourBecomesSlot(t *testing.T) {
	d := mustGet(t, Rounds)
	rec, err := d.FromWire(map[string]any{"id": "r-1", "residentId": "R1", "date": "2024-01-01", "hour": 9.0})
	require.NoError(t, err)
	assert.Equal(t, "09", rec.Dimension.Slot)
	assert.Less(t, d.SlotRank("09"), d.SlotRank("21"))
}

func TestGetSetUnset(t *testing.T) {
	d := mustGet(t, Vitals)
	rec := d.NewRecord("tmp~1", "", domain.Dimension{Date: "2024-01-01", Slot: "morning"})

	rec = d.Set(rec, "residentId", "R9")
	assert.Equal(t, "R9", rec.Owner)
	v, ok := d.Get(rec, "residentId")
	assert.True(t, ok)
	assert.Equal(t, "R9", v)

	rec = d.Set(rec, "pulseRate", 80.0)
	assert.Equal(t, 80.0, rec.Fields["pulseRate"])
	rec = d.Unset(rec, "pulseRate")
	_, ok = d.Get(rec, "pulseRate")
	assert.False(t, ok)

	rec = d.Unset(rec, "residentId")
	assert.Equal(t, "", rec.Owner)
	assert.Contains(t, d.Keys(rec), "residentId")
}

func TestBathingExpectFollowsSchedule(t *testing.T) {
	d := mustGet(t, Bathing)
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	owner := domain.Owner{ID: "R1", Active: true, BathDays: []time.Weekday{time.Monday}, BathSlot: TimingAfternoon}

	assert.Equal(t, []string{TimingAfternoon}, d.Expect(owner, monday))
	assert.Nil(t, d.Expect(owner, monday.AddDate(0, 0, 1)))
	owner.Active = false
	assert.Nil(t, d.Expect(owner, monday))
}

func TestOwnersFromResidents(t *testing.T) {
	owners := OwnersFromResidents([]domain.Record{
		{ID: "R1", Fields: domain.Fields{"name": "Aoki", "floor": "2F", "roomNumber": "201", "sortOrder": 3.0, "bathDays": "mon, Thursday", "active": true}},
		{ID: "tmp~x", Fields: domain.Fields{"name": "draft"}},
		{ID: "R2", Fields: domain.Fields{"name": "Baba", "bathDays": "0,6,9", "active": "false"}},
	})
	require.Len(t, owners, 2)
	assert.Equal(t, "201", owners[0].Room)
	assert.Equal(t, 3, owners[0].SortOrder)
	assert.Equal(t, []time.Weekday{time.Monday, time.Thursday}, owners[0].BathDays)
	assert.True(t, owners[0].Active)
	assert.Equal(t, []time.Weekday{time.Sunday, time.Saturday}, owners[1].BathDays)
	assert.False(t, owners[1].Active)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Options{RoundHours: []string{"08"}})
	assert.Equal(t, []string{Bathing, Residents, Rounds, Staff, Vitals}, r.Names())

	d, _ := r.Get(Rounds)
	assert.Equal(t, []string{"08"}, d.Expect(domain.Owner{Active: true}, time.Now()))

	assert.Error(t, r.Register(&Descriptor{}))
	assert.Error(t, r.Register(&Descriptor{Name: "x", OwnerResource: Residents}))
	require.NoError(t, r.Register(&Descriptor{Name: "meals"}))
	_, ok := r.Get("meals")
	assert.True(t, ok)
}
