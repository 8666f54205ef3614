package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/eventstore"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var noon = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// MockStore implements eventstore.Store for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Record(ctx context.Context, event *models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStore) Count(ctx context.Context, q eventstore.Query) (int, error) {
	args := m.Called(ctx, q)
	return args.Int(0), args.Error(1)
}

func threats(t *testing.T) *config.Threats {
	t.Helper()
	th, err := config.LoadThreats("")
	require.NoError(t, err)
	return th
}

func memoryStore(t *testing.T) *eventstore.MemoryStore {
	t.Helper()
	s, err := eventstore.NewMemoryStore(1000, 0)
	require.NoError(t, err)
	return s
}

func eventAt(eventType string, at time.Time) *models.Event {
	return models.NewEvent(models.SourceLinux, eventType, at)
}

func TestKindNames(t *testing.T) {
	names := make([]string, 0)
	for _, k := range AllKinds() {
		names = append(names, k.String())
	}
	assert.Equal(t, []string{"keyword-match", "frequency", "behavioral", "network", "statistical"}, names)
}

func TestKeywordDetector(t *testing.T) {
	d := NewKeywordDetector(threats(t))

	tests := []struct {
		name    string
		message string
		want    float64
	}{
		{"malware escalates", "Detected RANSOMWARE payload in /tmp", 0.9},
		{"auth failure only", "authentication attempt failed", 0.7},
		{"network attack", "possible port scan from 203.0.113.9", 0.9},
		{"privilege", "sudo: alice : COMMAND=/bin/bash", 0.7},
		{"benign", "service nginx started", 0},
		{"max across categories", "failed login then trojan dropped", 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := eventAt(models.EventSyslog, noon)
			e.RawMessage = tt.message

			assert.Equal(t, tt.want, d.Score(context.Background(), e))
		})
	}
}

func TestKeywordDetector_MatchesRawWhenNormalizedDiffers(t *testing.T) {
	d := NewKeywordDetector(threats(t))

	e := eventAt(models.EventSystem, noon)
	e.NormalizedMessage = "An account event"
	e.RawMessage = `{"Message":"Keylogger activity blocked"}`

	score, matched := d.Match(e)
	assert.Equal(t, 0.9, score)
	assert.Equal(t, []string{"MALWARE"}, matched)
}

func TestFrequencyDetector_FailureBoundaries(t *testing.T) {
	tests := []struct {
		prior int
		want  float64
	}{
		{5, 0},
		{6, 0.7},
		{10, 0.7},
		{11, 0.9},
	}

	for _, tt := range tests {
		store := memoryStore(t)
		ctx := context.Background()

		for i := 0; i < tt.prior; i++ {
			prior := eventAt(models.EventLoginFailure, noon.Add(-time.Duration(i*20)*time.Second))
			prior.Network.SrcIP = "203.0.113.5"
			require.NoError(t, store.Record(ctx, prior))
		}

		// Outside the window
		old := eventAt(models.EventLoginFailure, noon.Add(-6*time.Minute))
		old.Network.SrcIP = "203.0.113.5"
		require.NoError(t, store.Record(ctx, old))

		d := NewFrequencyDetector(store, zap.NewNop())
		e := eventAt(models.EventLoginFailure, noon)
		e.Network.SrcIP = "203.0.113.5"

		assert.Equal(t, tt.want, d.Score(ctx, e), "prior failures: %d", tt.prior)
	}
}

func TestFrequencyDetector_UserAnomalies(t *testing.T) {
	store := memoryStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		prior := eventAt(models.EventSyslog, noon.Add(-time.Duration(i)*time.Minute/2))
		prior.User.Name = "mallory"
		prior.IsAnomaly = true
		require.NoError(t, store.Record(ctx, prior))
	}

	d := NewFrequencyDetector(store, zap.NewNop())

	e := eventAt(models.EventProcessStart, noon)
	e.User.Name = "mallory"
	assert.Equal(t, 0.8, d.Score(ctx, e))

	other := eventAt(models.EventProcessStart, noon)
	other.User.Name = "alice"
	assert.Zero(t, d.Score(ctx, other))
}

func TestFrequencyDetector_StoreErrorIsNoSignal(t *testing.T) {
	store := new(MockStore)
	store.On("Count", mock.Anything, mock.Anything).Return(0, errors.New("connection refused"))

	d := NewFrequencyDetector(store, zap.NewNop())
	e := eventAt(models.EventLoginFailure, noon)
	e.Network.SrcIP = "203.0.113.5"
	e.User.Name = "root"

	assert.Zero(t, d.Score(context.Background(), e))
	store.AssertNumberOfCalls(t, "Count", 2)
}

func TestFrequencyDetector_ExcludesScoredEvent(t *testing.T) {
	store := new(MockStore)
	e := eventAt(models.EventLoginFailure, noon)
	e.Network.SrcIP = "203.0.113.5"

	store.On("Count", mock.Anything, mock.MatchedBy(func(q eventstore.Query) bool {
		return q.ExcludeID == e.ID &&
			q.Index == eventstore.IndexFailedLoginBySource &&
			q.From.Equal(noon.Add(-5*time.Minute)) &&
			q.To.Equal(noon)
	})).Return(6, nil)

	d := NewFrequencyDetector(store, zap.NewNop())

	assert.Equal(t, 0.7, d.Score(context.Background(), e))
	store.AssertExpectations(t)
}

func TestBehavioralDetector(t *testing.T) {
	d := NewBehavioralDetector(threats(t))
	d.SetLocation(time.UTC)

	at := func(hour int) time.Time { return time.Date(2026, 10, 19, hour, 30, 0, 0, time.UTC) }

	tests := []struct {
		name      string
		eventType string
		hour      int
		process   string
		want      float64
	}{
		{"login at 3am", models.EventLoginSuccess, 3, "", 0.6},
		{"failed login at 11pm", models.EventLoginFailure, 23, "", 0.6},
		{"process start at 5am", models.EventProcessStart, 5, "", 0.6},
		{"login at 6am", models.EventLoginSuccess, 6, "", 0},
		{"login at 10pm", models.EventLoginSuccess, 22, "", 0},
		{"login at noon", models.EventLoginSuccess, 12, "", 0},
		{"syslog at 3am", models.EventSyslog, 3, "", 0},
		{"explorer file access", models.EventFileAccess, 12, "explorer.exe", 0.5},
		{"bash file access at night", models.EventFileAccess, 2, "bash", 0.5},
		{"word file access", models.EventFileAccess, 12, "winword.exe", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := eventAt(tt.eventType, at(tt.hour))
			e.Process.Name = tt.process

			assert.Equal(t, tt.want, d.Score(context.Background(), e))
		})
	}
}

func TestNetworkDetector(t *testing.T) {
	d := NewNetworkDetector(threats(t))

	tests := []struct {
		name  string
		tuple models.NetworkTuple
		tags  interface{}
		want  float64
	}{
		{"suspicious port", models.NetworkTuple{SrcIP: "10.0.0.5", DstIP: "203.0.113.50", DstPort: 4444}, nil, 0.8},
		{"external to internal", models.NetworkTuple{SrcIP: "203.0.113.5", DstIP: "10.0.0.5", DstPort: 3389}, nil, 0.7},
		{"authorized inbound", models.NetworkTuple{SrcIP: "203.0.113.5", DstIP: "10.0.0.5", DstPort: 443}, []interface{}{"AUTHORIZED"}, 0},
		{"authorized string tag", models.NetworkTuple{SrcIP: "203.0.113.5", DstIP: "192.168.1.2", DstPort: 443}, "vpn, authorized", 0},
		{"internal to internal", models.NetworkTuple{SrcIP: "10.0.0.6", DstIP: "10.0.0.5", DstPort: 22}, nil, 0},
		{"outbound https", models.NetworkTuple{SrcIP: "10.0.0.6", DstIP: "198.51.100.1", DstPort: 443}, nil, 0},
		{"inbound to backdoor port", models.NetworkTuple{SrcIP: "203.0.113.5", DstIP: "10.0.0.5", DstPort: 31337}, nil, 0.8},
		{"no network data", models.NetworkTuple{}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := eventAt(models.EventNetworkConnection, noon)
			e.Network = tt.tuple
			if tt.tags != nil {
				e.EventData["tags"] = tt.tags
			}

			assert.Equal(t, tt.want, d.Score(context.Background(), e))
		})
	}
}

func TestStatisticalDetector(t *testing.T) {
	ctx := context.Background()

	// 167 baseline events, one per hour before the trailing hour: average 1.0
	seed := func(store *eventstore.MemoryStore, current int) {
		for h := 0; h < 167; h++ {
			require.NoError(t, store.Record(ctx, eventAt(models.EventLoginSuccess, noon.Add(-time.Duration(h+1)*time.Hour-30*time.Minute))))
		}
		for i := 0; i < current; i++ {
			require.NoError(t, store.Record(ctx, eventAt(models.EventLoginSuccess, noon.Add(-time.Duration(i+1)*time.Minute))))
		}
	}

	t.Run("at three times average", func(t *testing.T) {
		store := memoryStore(t)
		seed(store, 3)
		d := NewStatisticalDetector(store, zap.NewNop())
		assert.Zero(t, d.Score(ctx, eventAt(models.EventLoginSuccess, noon)))
	})

	t.Run("above three times average", func(t *testing.T) {
		store := memoryStore(t)
		seed(store, 4)
		d := NewStatisticalDetector(store, zap.NewNop())
		assert.Equal(t, 0.6, d.Score(ctx, eventAt(models.EventLoginSuccess, noon)))
	})

	t.Run("no history", func(t *testing.T) {
		store := memoryStore(t)
		for i := 0; i < 50; i++ {
			require.NoError(t, store.Record(ctx, eventAt(models.EventLoginSuccess, noon.Add(-time.Minute))))
		}
		d := NewStatisticalDetector(store, zap.NewNop())
		assert.Zero(t, d.Score(ctx, eventAt(models.EventLoginSuccess, noon)))
	})

	t.Run("store error", func(t *testing.T) {
		store := new(MockStore)
		store.On("Count", mock.Anything, mock.Anything).Return(0, errors.New("timeout"))
		d := NewStatisticalDetector(store, zap.NewNop())
		assert.Zero(t, d.Score(ctx, eventAt(models.EventLoginSuccess, noon)))
	})
}
