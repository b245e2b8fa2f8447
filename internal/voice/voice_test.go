package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
	"go.bug.st/serial"

	"github.com/banshee-data/scenesynth/internal/theory"
	"github.com/banshee-data/scenesynth/internal/timeutil"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestID(t *testing.T) {
	for _, id := range All {
		parsed, err := ParseID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
	_, err := ParseID("choir")
	assert.True(t, errors.Is(err, ErrUnknownVoice))
	assert.False(t, ID(7).Valid())
	assert.Equal(t, "voice(7)", ID(7).String())
	assert.Equal(t, uint8(9), Noise.Channel())

	data, err := json.Marshal(map[string]ID{"v": Bass})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":"bass"}`, string(data))

	var back struct{ V ID }
	require.NoError(t, json.Unmarshal([]byte(`{"V":"pad"}`), &back))
	assert.Equal(t, Pad, back.V)
}

func TestDuration_Length(t *testing.T) {
	assert.Equal(t, 125*time.Millisecond, Sixteenth.Length(120))
	assert.Equal(t, 250*time.Millisecond, Eighth.Length(120))
	assert.Equal(t, time.Second, Quarter.Length(60))
	assert.Zero(t, Eighth.Length(0))
}

func TestMixer_MuteVolumePreset(t *testing.T) {
	m := NewMixer()
	assert.False(t, m.Muted(Lead))
	assert.Equal(t, DefaultVolumeDB, m.Volume(Lead))
	assert.Equal(t, "saw", m.Preset(Lead))
	assert.Equal(t, "", m.Preset(Noise))

	require.NoError(t, m.SetMute(Bass, true))
	assert.True(t, m.Muted(Bass))
	muted, err := m.Toggle(Bass)
	require.NoError(t, err)
	assert.False(t, muted)

	got, err := m.SetVolume(Pad, -100)
	require.NoError(t, err)
	assert.Equal(t, MinVolumeDB, got)
	got, _ = m.SetVolume(Pad, 6)
	assert.Equal(t, MaxVolumeDB, got)

	var changed []string
	m.OnPresetChange(func(id ID, p Preset) { changed = append(changed, id.String()+":"+p.Name) })

	require.NoError(t, m.SetPreset(Bass, "reese"))
	err = m.SetPreset(Bass, "tuba")
	assert.True(t, errors.Is(err, ErrInvalidPreset))
	assert.Equal(t, "reese", m.Preset(Bass), "invalid preset keeps the current one")
	err = m.SetPreset(Noise, "saw")
	assert.True(t, errors.Is(err, ErrInvalidPreset))
	assert.Equal(t, []string{"bass:reese"}, changed)

	assert.Error(t, m.SetMute(ID(9), true))
	assert.True(t, m.Muted(ID(9)))

	snap := m.Snapshot()
	require.Len(t, snap, 4)
	assert.Equal(t, Pad, snap[1].Voice)
	assert.Equal(t, MaxVolumeDB, snap[1].VolumeDB)
}

func TestVelocityForDB(t *testing.T) {
	assert.Equal(t, uint8(127), VelocityForDB(0))
	assert.Equal(t, uint8(13), VelocityForDB(-40))
	assert.Equal(t, uint8(4), VelocityForDB(-60))
	assert.Equal(t, uint8(127), VelocityForDB(12))
}

func TestPresets(t *testing.T) {
	assert.Contains(t, Presets(Lead), "detuned")
	assert.Len(t, Presets(Pad), 5)
	assert.Empty(t, Presets(Noise))
	p, err := LookupPreset(Pad, "choir")
	require.NoError(t, err)
	assert.Equal(t, uint8(91), p.Program)
}

func TestMultiSink(t *testing.T) {
	a, b := NewCounter(0), NewCounter(2)
	boom := errors.New("boom")
	sink := MultiSink{a, nil, SinkFunc(func(context.Context, Trigger) error { return boom }), b}

	err := sink.TriggerNote(context.Background(), Trigger{Voice: Lead})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.Count(Lead))
	assert.Equal(t, 1, b.Count(Lead), "later sinks still run after a failure")

	for i := 0; i < 3; i++ {
		_ = b.TriggerNote(context.Background(), Trigger{Voice: Noise, Step: i})
	}
	recent := b.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, 2, recent[1].Step)
	assert.Equal(t, 4, b.Total())
	assert.Error(t, b.TriggerNote(context.Background(), Trigger{Voice: ID(-1)}))
}

func TestScheduler_DispatchOrder(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	out := NewCounter(10)
	s := NewScheduler(out, clock, time.Millisecond)
	ctx := context.Background()

	_ = s.TriggerNote(ctx, Trigger{Voice: Bass, At: t0.Add(30 * time.Millisecond), Step: 3})
	_ = s.TriggerNote(ctx, Trigger{Voice: Lead, At: t0.Add(10 * time.Millisecond), Step: 1})
	_ = s.TriggerNote(ctx, Trigger{Voice: Pad, At: t0.Add(20 * time.Millisecond), Step: 2})
	assert.Equal(t, 3, s.Pending())

	assert.Equal(t, 0, s.Dispatch(ctx, t0))
	assert.Equal(t, 2, s.Dispatch(ctx, t0.Add(20*time.Millisecond)))
	assert.Equal(t, 1, s.Pending())
	assert.Equal(t, 1, s.Flush(ctx))

	recent := out.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{recent[0].Step, recent[1].Step, recent[2].Step})
}

func TestScheduler_Run(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	delivered := make(chan Trigger, 4)
	s := NewScheduler(SinkFunc(func(_ context.Context, tr Trigger) error {
		delivered <- tr
		return nil
	}), clock, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	clock.BlockUntilWaiters(1)

	_ = s.TriggerNote(ctx, Trigger{Voice: Lead, At: t0.Add(5 * time.Millisecond)})
	clock.Advance(5 * time.Millisecond)
	select {
	case tr := <-delivered:
		assert.Equal(t, Lead, tr.Voice)
	case <-time.After(time.Second):
		t.Fatal("trigger not delivered")
	}

	_ = s.TriggerNote(ctx, Trigger{Voice: Bass, At: t0.Add(time.Hour)})
	cancel()
	<-done
	select {
	case tr := <-delivered:
		assert.Equal(t, Bass, tr.Voice, "pending triggers are flushed on shutdown")
	default:
		t.Fatal("pending trigger not flushed")
	}
}

func TestMIDISink_NoteOnAndOff(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	var buf bytes.Buffer
	sink := NewMIDISink(&buf, clock, func() float64 { return 120 })

	tr := Trigger{Voice: Pad, Note: theory.Note{Name: "A", Octave: 4}, HasPitch: true, Duration: Eighth, Velocity: 90}
	require.NoError(t, sink.TriggerNote(context.Background(), tr))
	assert.Equal(t, []byte{0x91, 69, 90}, buf.Bytes())

	n, err := sink.Service(t0.Add(249 * time.Millisecond))
	require.NoError(t, err)
	assert.Zero(t, n)

	buf.Reset()
	n, err = sink.Service(t0.Add(250 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, midi.NoteOff(1, 69).Bytes(), buf.Bytes())
}

func TestMIDISink_NoiseAndProgram(t *testing.T) {
	var buf bytes.Buffer
	sink := NewMIDISink(&buf, timeutil.NewMockClock(t0), nil)

	require.NoError(t, sink.TriggerNote(context.Background(), Trigger{Voice: Noise, Duration: Sixteenth}))
	assert.Equal(t, []byte{0x99, NoiseKey, defaultVelocity}, buf.Bytes())

	buf.Reset()
	require.NoError(t, sink.ProgramChange(Lead, 81))
	assert.Equal(t, []byte{0xC0, 81}, buf.Bytes())

	buf.Reset()
	require.NoError(t, sink.AllNotesOff())
	// one pending NoteOff plus an all-notes-off controller per voice
	assert.Equal(t, 3+4*3, buf.Len())
	assert.Equal(t, 7, sink.Sent())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestMIDISink_WriteError(t *testing.T) {
	sink := NewMIDISink(failingWriter{}, nil, nil)
	err := sink.TriggerNote(context.Background(), Trigger{Voice: Lead, HasPitch: true, Note: theory.Note{Name: "C", Octave: 4}})
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Error(t, sink.TriggerNote(context.Background(), Trigger{Voice: ID(12)}))
}

func TestRecorder_WritesReadableSMF(t *testing.T) {
	rec := NewRecorder(120, t0)
	ctx := context.Background()
	lead := theory.Note{Name: "C", Octave: 5}
	for i := 0; i < 4; i++ {
		at := t0.Add(time.Duration(i) * 125 * time.Millisecond)
		require.NoError(t, rec.TriggerNote(ctx, Trigger{Voice: Lead, Note: lead, HasPitch: true, Duration: Sixteenth, At: at}))
	}
	require.NoError(t, rec.TriggerNote(ctx, Trigger{Voice: Bass, Note: theory.Note{Name: "C", Octave: 2}, HasPitch: true, Duration: Eighth, At: t0}))
	assert.Equal(t, 5, rec.Len())

	var buf bytes.Buffer
	_, err := rec.WriteTo(&buf)
	require.NoError(t, err)

	parsed, err := smf.ReadFrom(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, parsed.Tracks, 5, "tempo track plus one per voice")

	var ticks []uint32
	var abs uint32
	for _, ev := range parsed.Tracks[1] {
		abs += ev.Delta
		var ch, key, vel uint8
		if midi.Message(ev.Message).GetNoteOn(&ch, &key, &vel) && vel > 0 {
			assert.Equal(t, uint8(72), key)
			ticks = append(ticks, abs)
		}
	}
	assert.Equal(t, []uint32{0, 240, 480, 720}, ticks)
}

func TestRecorder_WriteFile(t *testing.T) {
	rec := NewRecorder(0, time.Time{})
	require.NoError(t, rec.TriggerNote(context.Background(), Trigger{Voice: Noise, Duration: Sixteenth, At: t0.Add(time.Second)}))
	path := t.TempDir() + "/score.mid"
	require.NoError(t, rec.WriteFile(path))
	_, err := smf.ReadFile(path)
	require.NoError(t, err)
}

func TestPortOptions(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: DINBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	mode, err := PortOptions{StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	assert.Equal(t, DINBaudRate, mode.BaudRate)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "mark"}.Normalize()
	assert.Error(t, err)
}

type nopCloser struct{ bytes.Buffer }

func (*nopCloser) Close() error { return nil }

func TestOpenSerialMIDI(t *testing.T) {
	var gotPath string
	var gotMode *serial.Mode
	port := &nopCloser{}
	w, err := OpenSerialMIDI("/dev/ttyUSB0", PortOptions{}, func(path string, mode *serial.Mode) (io.WriteCloser, error) {
		gotPath, gotMode = path, mode
		return port, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", gotPath)
	assert.Equal(t, DINBaudRate, gotMode.BaudRate)

	sink := NewMIDISink(w, nil, nil)
	require.NoError(t, sink.TriggerNote(context.Background(), Trigger{Voice: Lead, HasPitch: true, Note: theory.Note{Name: "C", Octave: 4}}))
	assert.Equal(t, []byte{0x90, 60, defaultVelocity}, port.Bytes())

	_, err = OpenSerialMIDI("/dev/null", PortOptions{DataBits: 4}, nil)
	assert.Error(t, err)
}
