package monitor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"time"

	"github.com/fogleman/gg"

	"github.com/banshee-data/scenesynth/internal/compositor"
	"github.com/banshee-data/scenesynth/internal/db"
	"github.com/banshee-data/scenesynth/internal/httputil"
	"github.com/banshee-data/scenesynth/internal/security"
	"github.com/banshee-data/scenesynth/internal/sequencer"
	"github.com/banshee-data/scenesynth/internal/theory"
	"github.com/banshee-data/scenesynth/internal/version"
	"github.com/banshee-data/scenesynth/internal/voice"
)

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"uptime":  time.Since(ws.started).Round(time.Second).String(),
	})
}

type statusResponse struct {
	Sequencer *sequencer.State      `json:"sequencer,omitempty"`
	Stats     *sequencer.Stats      `json:"stats,omitempty"`
	BPM       float64               `json:"bpm,omitempty"`
	Frame     *compositor.FrameInfo `json:"frame,omitempty"`
	Theory    *theory.State         `json:"theory,omitempty"`
	Voices    []voice.ChannelState  `json:"voices,omitempty"`
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	var resp statusResponse
	c := ws.cfg
	if c.Sequencer != nil {
		st, stats := c.Sequencer.State(), c.Sequencer.Stats()
		resp.Sequencer, resp.Stats = &st, &stats
	}
	if c.Transport != nil {
		resp.BPM = c.Transport.BPM()
	}
	if c.Compositor != nil {
		fi := c.Compositor.LastFrame()
		resp.Frame = &fi
	}
	if c.Quantizer != nil {
		st := c.Quantizer.State()
		resp.Theory = &st
	}
	if c.Mixer != nil {
		resp.Voices = c.Mixer.Snapshot()
	}
	httputil.WriteJSONOK(w, resp)
}

// handleParams reads or updates the effect parameters. A POST body may name
// any subset of fields; the rest keep their current values. Out-of-range
// values are clamped, never rejected.
func (ws *WebServer) handleParams(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	store := ws.cfg.Params
	if r.Method == http.MethodGet {
		httputil.WriteJSONOK(w, store.Get())
		return
	}
	var raw json.RawMessage
	if err := httputil.DecodeJSON(w, r, &raw); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var applyErr error
	p := store.Update(func(p *compositor.EffectParams) {
		next := *p
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if applyErr = dec.Decode(&next); applyErr == nil {
			*p = next
		}
	})
	if applyErr != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid params: %v", applyErr))
		return
	}
	httputil.WriteJSONOK(w, p)
}

type sequencerUpdate struct {
	MotionThreshold     *float64 `json:"motion_threshold"`
	BrightnessThreshold *float64 `json:"brightness_threshold"`
	TotalSteps          *int     `json:"total_steps"`
	BPM                 *float64 `json:"bpm"`
}

type sequencerResponse struct {
	sequencer.State
	BPM float64 `json:"bpm"`
}

func (ws *WebServer) sequencerState() sequencerResponse {
	resp := sequencerResponse{State: ws.cfg.Sequencer.State()}
	if ws.cfg.Transport != nil {
		resp.BPM = ws.cfg.Transport.BPM()
	}
	return resp
}

func (ws *WebServer) handleSequencer(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if r.Method == http.MethodPost {
		var u sequencerUpdate
		if err := httputil.DecodeJSON(w, r, &u); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if u.BPM != nil && ws.cfg.Transport == nil {
			httputil.BadRequest(w, "no transport to set bpm on")
			return
		}
		seq := ws.cfg.Sequencer
		if u.MotionThreshold != nil {
			seq.SetMotionThreshold(*u.MotionThreshold)
		}
		if u.BrightnessThreshold != nil {
			seq.SetBrightnessThreshold(*u.BrightnessThreshold)
		}
		if u.TotalSteps != nil {
			seq.SetTotalSteps(*u.TotalSteps)
		}
		if u.BPM != nil {
			ws.cfg.Transport.SetBPM(*u.BPM)
		}
	}
	httputil.WriteJSONOK(w, ws.sequencerState())
}

func (ws *WebServer) handleSequencerReset(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodPost) {
		return
	}
	ws.cfg.Sequencer.Reset()
	httputil.WriteJSONOK(w, ws.sequencerState())
}

// handleCompositorReset clears the feedback trail and accumulated motion.
func (ws *WebServer) handleCompositorReset(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodPost) {
		return
	}
	ws.cfg.Compositor.Reset()
	httputil.WriteJSONOK(w, map[string]bool{"reset": true})
}

type theoryUpdate struct {
	Root       *theory.NoteName  `json:"root"`
	Scale      *theory.ScaleName `json:"scale"`
	OctaveBase *int              `json:"octave_base"`
}

type theoryResponse struct {
	theory.State
	Notes []theory.NoteName `json:"notes"`
}

// handleTheory applies root, scale and octave together: an invalid field
// rejects the whole request and leaves the quantizer unchanged.
func (ws *WebServer) handleTheory(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	q := ws.cfg.Quantizer
	if r.Method == http.MethodPost {
		var u theoryUpdate
		if err := httputil.DecodeJSON(w, r, &u); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		st := q.State()
		if u.Root != nil {
			st.Root = *u.Root
		}
		if u.Scale != nil {
			st.Scale = *u.Scale
		}
		if u.OctaveBase != nil {
			st.OctaveBase = *u.OctaveBase
		}
		if err := q.Apply(st); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	httputil.WriteJSONOK(w, theoryResponse{State: q.State(), Notes: q.ScaleNotes()})
}

type voiceUpdate struct {
	Voice    string   `json:"voice"`
	Muted    *bool    `json:"muted"`
	VolumeDB *float64 `json:"volume_db"`
	Preset   *string  `json:"preset"`
}

type voicesResponse struct {
	Voices  []voice.ChannelState `json:"voices"`
	Presets map[string][]string  `json:"presets"`
}

func (ws *WebServer) handleVoices(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	m := ws.cfg.Mixer
	if r.Method == http.MethodPost {
		var u voiceUpdate
		if err := httputil.DecodeJSON(w, r, &u); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		id, err := voice.ParseID(u.Voice)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		// The preset is checked first so a bad name changes nothing.
		if u.Preset != nil {
			if _, err := voice.LookupPreset(id, *u.Preset); err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
		}
		if u.Muted != nil {
			if err := m.SetMute(id, *u.Muted); err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
		}
		if u.VolumeDB != nil {
			if _, err := m.SetVolume(id, *u.VolumeDB); err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
		}
		if u.Preset != nil {
			if err := m.SetPreset(id, *u.Preset); err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
		}
	}
	resp := voicesResponse{Voices: m.Snapshot(), Presets: make(map[string][]string)}
	for _, id := range voice.All {
		resp.Presets[id.String()] = voice.Presets(id)
	}
	httputil.WriteJSONOK(w, resp)
}

func (ws *WebServer) handleGrid(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	g, ok := ws.cfg.Grid.Last()
	if !ok {
		httputil.NotFound(w, "no grid analysed yet")
		return
	}
	httputil.WriteJSONOK(w, g)
}

func (ws *WebServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	img, ok := ws.cfg.Frames.Frame()
	if !ok {
		httputil.NotFound(w, "no frame rendered yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("encode frame: %v", err))
	}
}

// handleSnapshot saves the latest frame as <name>.png in the snapshot
// directory.
func (ws *WebServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodPost) {
		return
	}
	img, ok := ws.cfg.Frames.Frame()
	if !ok {
		httputil.NotFound(w, "no frame rendered yet")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = fmt.Sprintf("snapshot-%d", time.Now().Unix())
	}
	path, err := security.ResolveOutput(ws.cfg.SnapshotDir, security.SanitizeFilename(name)+".png")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := gg.SavePNG(path, img); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("save snapshot: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := ws.cfg.Journal.Sessions()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (ws *WebServer) handleSessionNotes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := ws.cfg.Journal.Session(id); err != nil {
		writeJournalError(w, err)
		return
	}
	notes, err := ws.cfg.Journal.Notes(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if notes == nil {
		notes = []db.NoteEvent{}
	}
	httputil.WriteJSONOK(w, notes)
}

func (ws *WebServer) handleSessionSMF(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := ws.cfg.Journal.Session(id); err != nil {
		writeJournalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/midi")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s.mid", security.SanitizeFilename(id)))
	if _, err := ws.cfg.Journal.ExportSMF(id, w); err != nil {
		httputil.InternalServerError(w, err.Error())
	}
}

func writeJournalError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrSessionNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}
