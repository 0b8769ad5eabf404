// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ctvcoop/archivist/internal/cablecast"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	shows     []cablecast.Show
	showsErr  error
	vods      map[int][]cablecast.VOD
	vodsErr   error
	status    map[int]*cablecast.VODStatus
	statusErr error
}

func (f *fakeUpstream) GetShows(context.Context, int) ([]cablecast.Show, error) {
	return f.shows, f.showsErr
}

func (f *fakeUpstream) GetVODs(_ context.Context, showID int) ([]cablecast.VOD, error) {
	return f.vods[showID], f.vodsErr
}

func (f *fakeUpstream) GetVODStatus(_ context.Context, id int) (*cablecast.VODStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.status[id], nil
}

type recordingAlerter struct{ alerts []Alert }

func (r *recordingAlerter) Alert(_ context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func cityMap() map[int]string {
	return map[int]string{5: "birchwood", 6: "cedarview"}
}

func newUpstream() *fakeUpstream {
	return &fakeUpstream{
		shows: []cablecast.Show{
			{ID: 42, Title: "Council", EventDate: "2026-08-23", ChannelID: 5},
			{ID: 40, Title: "Old Council", EventDate: "2026-08-01", ChannelID: 5},
			{ID: 50, Title: "Cedar Board", EventDate: "2026-08-22", ChannelID: 6},
		},
		vods: map[int][]cablecast.VOD{
			42: {{ID: 7, ShowID: 42}},
			50: {{ID: 9, ShowID: 50}},
		},
		status: map[int]*cablecast.VODStatus{
			7: {ID: 7, State: cablecast.VODStateReady, CaptionsAvailable: true},
			9: {ID: 9, State: cablecast.VODStateReady, CaptionsAvailable: false},
		},
	}
}

func TestAuditAlertsMissingCaptions(t *testing.T) {
	up := newUpstream()
	alerter := &recordingAlerter{}
	a := New(up, cityMap(), nil, alerter)

	report := a.Run(context.Background())

	assert.Equal(t, OutcomeCaptioned, report.Cities["birchwood"].Outcome)
	assert.Equal(t, 7, report.Cities["birchwood"].VODID)

	assert.Equal(t, OutcomeAlerted, report.Cities["cedarview"].Outcome)
	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, "error", alerter.alerts[0].Level)
	assert.Equal(t, "cedarview", alerter.alerts[0].City)
	assert.Equal(t, 9, alerter.alerts[0].VODID)
}

func TestAuditPicksLatestShowPerCity(t *testing.T) {
	up := newUpstream()
	// The old show has an uncaptioned VOD, but only the latest counts.
	up.vods[40] = []cablecast.VOD{{ID: 3, ShowID: 40}}
	up.status[3] = &cablecast.VODStatus{ID: 3, CaptionsAvailable: false}
	alerter := &recordingAlerter{}
	a := New(up, cityMap(), nil, alerter)

	report := a.Run(context.Background())
	assert.Equal(t, OutcomeCaptioned, report.Cities["birchwood"].Outcome)
	for _, alert := range alerter.alerts {
		assert.NotEqual(t, 3, alert.VODID)
	}
}

func TestAuditOneAlertPerVODPerDay(t *testing.T) {
	up := newUpstream()
	alerter := &recordingAlerter{}
	a := New(up, cityMap(), nil, alerter)
	now := time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)
	a.clock = func() time.Time { return now }

	a.Run(context.Background())
	a.Run(context.Background())
	assert.Len(t, alerter.alerts, 1, "second pass same day must not re-alert")

	now = now.Add(24 * time.Hour)
	a.Run(context.Background())
	assert.Len(t, alerter.alerts, 2, "next day alerts again")
}

func TestAuditDedupeViaRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	up := newUpstream()
	alerter := &recordingAlerter{}
	a := New(up, cityMap(), rdb, alerter)

	a.Run(context.Background())
	a.Run(context.Background())
	assert.Len(t, alerter.alerts, 1)

	mr.FastForward(25 * time.Hour)
	a.Run(context.Background())
	assert.Len(t, alerter.alerts, 2)
}

func TestAuditInconclusiveOnErrors(t *testing.T) {
	up := newUpstream()
	up.statusErr = errors.New("upstream timeout")
	alerter := &recordingAlerter{}
	a := New(up, cityMap(), nil, alerter)

	report := a.Run(context.Background())
	assert.Equal(t, OutcomeInconclusive, report.Cities["birchwood"].Outcome)
	assert.Equal(t, OutcomeInconclusive, report.Cities["cedarview"].Outcome)
	assert.Empty(t, alerter.alerts, "inconclusive never alerts")
}

func TestAuditShowFetchFailure(t *testing.T) {
	up := &fakeUpstream{showsErr: errors.New("503")}
	a := New(up, cityMap(), nil, &recordingAlerter{})

	report := a.Run(context.Background())
	assert.Equal(t, OutcomeInconclusive, report.Cities["birchwood"].Outcome)
	assert.Equal(t, OutcomeInconclusive, report.Cities["cedarview"].Outcome)
}

func TestAuditNoVOD(t *testing.T) {
	up := newUpstream()
	delete(up.vods, 42)
	a := New(up, cityMap(), nil, &recordingAlerter{})

	report := a.Run(context.Background())
	assert.Equal(t, OutcomeNoVOD, report.Cities["birchwood"].Outcome)
}
