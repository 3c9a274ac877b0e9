package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/callcoach/pkg/provider/vad"
)

// HandleAudio is the capture sink registered with the audio device. It runs
// the energy through the VAD, tracks the user's speaking time and detects
// barge-in: speech onset while the partner is speaking cancels the running
// synthesis and stops playback. Listeners get the smoothed onset level, not
// the raw sample.
//
// While the disruption engine mutes the microphone every sample counts as
// silence. Samples outside an active session are ignored.
func (o *Orchestrator) HandleAudio(energy float64, _ []byte) {
	muted := o.disruptions.MicMuted()

	o.mu.Lock()
	if o.state != StateActive || o.vad == nil {
		o.mu.Unlock()
		return
	}
	if muted {
		energy = 0
	}
	ev := o.vad.ProcessEnergy(energy)

	var started, ended, bargeIn bool
	switch ev.Type {
	case vad.VADSpeechStart:
		started = true
		o.speechStart = o.now()
		if o.ttsCancel != nil {
			o.ttsCancel()
			o.ttsCancel = nil
			bargeIn = true
		}
	case vad.VADSpeechEnd:
		ended = true
		if !o.speechStart.IsZero() {
			o.spoken += o.now().Sub(o.speechStart)
		}
		o.speechStart = time.Time{}
	}
	o.mu.Unlock()

	if bargeIn {
		o.device.TriggerBargeIn()
		if o.metrics != nil {
			o.metrics.BargeIns.Add(context.Background(), 1)
		}
		o.log.Debug("barge-in: user interrupted the partner")
		o.emit(func(l Listener) {
			if l.OnBargeIn != nil {
				l.OnBargeIn()
			}
		})
	}
	if started {
		o.emit(func(l Listener) {
			if l.OnSpeechStart != nil {
				l.OnSpeechStart(ev.Level)
			}
		})
	}
	if ended {
		o.emit(func(l Listener) {
			if l.OnSpeechEnd != nil {
				l.OnSpeechEnd()
			}
		})
	}
}

// Calibrate recomputes the VAD noise floor from ambient energy samples and
// returns it.
func (o *Orchestrator) Calibrate(samples []float64) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.vad == nil {
		return 0, invalidState("calibrate", o.state)
	}
	floor, err := o.vad.Calibrate(samples)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: calibrate: %w", err)
	}
	return floor, nil
}
