package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"layer-monitor/internal/defect"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSummaries() []defect.LayerSummary {
	d1 := defect.Evaluate(nil, 1, true, true)
	d1.Summary.CaptureRef = "image_01.bmp"
	d2 := defect.Evaluate([]defect.Detection{
		defect.NewDetection(defect.Overextrusion, 0.9, 0, 0, 10, 5),
	}, 2, true, true)
	d2.Summary.CaptureRef = "image_02.bmp"
	return []defect.LayerSummary{d1.Summary, d2.Summary}
}

func TestJobDir(t *testing.T) {
	at := time.Date(2024, 5, 9, 8, 3, 0, 0, time.Local)
	got := JobDir("/home/op", "rootdir", "bracket", at)
	assert.Equal(t, filepath.Join("/home/op", "rootdir", "2024-05-09", "bracket_08_03"), got)
}

func TestPersisterSaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "2024-05-09", "bracket_08_03")
	p := NewPersister(dir, "bracket")
	assert.Equal(t, filepath.Join(dir, "bracket_defects.json"), p.Path())

	want := sampleSummaries()
	require.NoError(t, p.Save(want))

	raw, err := os.ReadFile(p.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "[\n    {\n        \"Layer number\": 1,"), string(raw[:40]))

	got, err := Load(p.Path())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Layer)
	assert.Equal(t, 2, got[1].Layer)
	assert.Equal(t, defect.OutcomePlanarize, got[1].Outcome)
	assert.Equal(t, want[1].Detections, got[1].Detections)
}

func TestPersisterSaveEmpty(t *testing.T) {
	p := NewPersister(t.TempDir(), "part")
	require.NoError(t, p.Save(nil))

	raw, err := os.ReadFile(p.Path())
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(raw))
}

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRecordBeforeStart(t *testing.T) {
	s := tempStore(t)
	err := s.Record(context.Background(), sampleSummaries()[0])
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestStoreRoundTrip(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	id, err := s.StartJob(ctx, "bracket", "bracket.gcode")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, s.JobID())

	want := sampleSummaries()
	for _, sum := range want {
		require.NoError(t, s.Record(ctx, sum))
	}

	got, err := s.Summaries(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, want[0].Decision, got[0].Decision)
	assert.Equal(t, "image_02.bmp", got[1].CaptureRef)
	assert.Equal(t, defect.OutcomePlanarize, got[1].Outcome)
	assert.Equal(t, want[1].Detections, got[1].Detections)

	jobs, err := s.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "bracket", jobs[0].PartName)
	assert.Equal(t, "bracket.gcode", jobs[0].GcodeFile)
	assert.True(t, jobs[0].FinishedAt.IsZero())
}

func TestStoreCloseFinishesJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	_, err = s.StartJob(context.Background(), "bracket", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := NewStore(path)
	require.NoError(t, err)
	defer s2.Close()
	jobs, err := s2.Jobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].FinishedAt.IsZero())
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisherRecord(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w, jobID: "job-1", part: "bracket"}

	sum := sampleSummaries()[1]
	require.NoError(t, p.Record(context.Background(), sum))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("job-1"), w.msgs[0].Key)

	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, "job-1", ev.JobID)
	assert.Equal(t, "bracket", ev.PartName)
	assert.Equal(t, 2, ev.Summary.Layer)
	assert.Equal(t, defect.OutcomePlanarize, ev.Summary.Outcome)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisherRecordError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Publisher{writer: &fakeWriter{err: boom}, jobID: "j"}
	err := p.Record(context.Background(), sampleSummaries()[0])
	assert.ErrorIs(t, err, boom)
}

func TestNewPublisherUsesKafkaWriter(t *testing.T) {
	p := NewPublisher([]string{"localhost:9092"}, "layers", "j", "part")
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "layers", w.Topic)
	assert.Equal(t, 1, w.BatchSize)
	assert.LessOrEqual(t, w.BatchTimeout, 10*time.Millisecond)
}
