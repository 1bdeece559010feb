package suppression_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/vadcapture/internal/suppression"
	audiomock "github.com/MrWong99/vadcapture/pkg/audio/mock"
	nsprovider "github.com/MrWong99/vadcapture/pkg/provider/suppression"
	nsmock "github.com/MrWong99/vadcapture/pkg/provider/suppression/mock"
)

func TestAdapter_Apply_Success(t *testing.T) {
	t.Parallel()
	out := audiomock.NewTrack("clean")
	conn := &nsmock.Connector{Output: out}
	proc := &nsmock.Processor{Conn: conn}
	a := suppression.New(proc.Factory(nil), nsprovider.Options{SampleRate: 16000, Intensity: 0.7})
	raw := audiomock.NewTrack("raw")

	got, err := a.Apply(context.Background(), raw)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != out {
		t.Error("Apply should return the suppressed track")
	}
	if !a.Active() {
		t.Error("adapter should be active")
	}
	if v, ok := conn.LastIntensity(); !ok || v != 0.7 {
		t.Errorf("intensity = %v (%v), want 0.7", v, ok)
	}
	if len(proc.InitCalls) != 1 || proc.InitCalls[0].SampleRate != 16000 {
		t.Errorf("InitCalls = %+v", proc.InitCalls)
	}
	if len(conn.SetTrackCalls) != 1 || conn.SetTrackCalls[0] != raw {
		t.Error("SetTrack should receive the raw track")
	}
}

func TestAdapter_Apply_FailuresFallBackToRaw(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	tests := []struct {
		name          string
		factoryErr    error
		proc          *nsmock.Processor
		wantProcFreed bool
		wantConnFreed bool
	}{
		{name: "factory", factoryErr: boom, proc: &nsmock.Processor{}},
		{name: "init", proc: &nsmock.Processor{InitErr: boom}, wantProcFreed: true},
		{name: "connector", proc: &nsmock.Processor{ConnectorErr: boom}, wantProcFreed: true},
		{name: "intensity", proc: &nsmock.Processor{Conn: &nsmock.Connector{IntensityErr: boom}}, wantProcFreed: true, wantConnFreed: true},
		{name: "set track", proc: &nsmock.Processor{Conn: &nsmock.Connector{SetTrackErr: boom}}, wantProcFreed: true, wantConnFreed: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := suppression.New(tc.proc.Factory(tc.factoryErr), nsprovider.Options{})
			raw := audiomock.NewTrack("raw")

			got, err := a.Apply(context.Background(), raw)
			if !errors.Is(err, boom) {
				t.Errorf("err = %v, want boom", err)
			}
			if got != raw {
				t.Error("failed Apply should return the raw track")
			}
			if a.Active() {
				t.Error("adapter should not be active")
			}
			if raw.Stops() != 0 {
				t.Error("raw track must stay live")
			}
			if _, _, destroyed := tc.proc.Counts(); (destroyed == 1) != tc.wantProcFreed {
				t.Errorf("processor destroyed %d times, want freed=%v", destroyed, tc.wantProcFreed)
			}
			if tc.proc.Conn != nil {
				if freed := tc.proc.Conn.DestroyCalls() == 1; freed != tc.wantConnFreed {
					t.Errorf("connector freed=%v, want %v", freed, tc.wantConnFreed)
				}
			}
		})
	}
}

func TestAdapter_Apply_IntensityNotSupportedIsFine(t *testing.T) {
	t.Parallel()
	proc := &nsmock.Processor{Conn: &nsmock.Connector{IntensityErr: nsprovider.ErrNotSupported}}
	a := suppression.New(proc.Factory(nil), nsprovider.Options{Intensity: 0.5})
	if _, err := a.Apply(context.Background(), audiomock.NewTrack("raw")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := a.SetIntensity(0.9); err != nil {
		t.Errorf("SetIntensity with unsupported backend: %v", err)
	}
	if a.Intensity() != 0.9 {
		t.Errorf("Intensity = %v, want stored 0.9", a.Intensity())
	}
}

func TestAdapter_Apply_NoFactory(t *testing.T) {
	t.Parallel()
	a := suppression.New(nil, nsprovider.Options{})
	raw := audiomock.NewTrack("raw")
	got, err := a.Apply(context.Background(), raw)
	if err == nil || got != raw {
		t.Errorf("Apply = (%v, %v), want raw track and error", got, err)
	}
}

func TestAdapter_SetIntensity_ClampsAndForwards(t *testing.T) {
	t.Parallel()
	conn := &nsmock.Connector{}
	proc := &nsmock.Processor{Conn: conn}
	a := suppression.New(proc.Factory(nil), nsprovider.Options{Intensity: 3})
	if a.Intensity() != 1 {
		t.Errorf("initial intensity = %v, want clamp to 1", a.Intensity())
	}
	if err := a.SetIntensity(0.3); err != nil {
		t.Fatalf("SetIntensity before Apply: %v", err)
	}
	if _, err := a.Apply(context.Background(), audiomock.NewTrack("raw")); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if v, _ := conn.LastIntensity(); v != 0.3 {
		t.Errorf("connector intensity = %v, want stored 0.3", v)
	}
	if err := a.SetIntensity(-2); err != nil {
		t.Fatalf("SetIntensity: %v", err)
	}
	if v, _ := conn.LastIntensity(); v != 0 {
		t.Errorf("connector intensity = %v, want clamp to 0", v)
	}
}

func TestAdapter_CloseReleasesEverything(t *testing.T) {
	t.Parallel()
	out := audiomock.NewTrack("clean")
	conn := &nsmock.Connector{Output: out, DestroyErr: errors.New("connector stuck")}
	proc := &nsmock.Processor{Conn: conn}
	a := suppression.New(proc.Factory(nil), nsprovider.Options{})
	if _, err := a.Apply(context.Background(), audiomock.NewTrack("raw")); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if err := a.Close(); err == nil {
		t.Error("Close should report the connector failure")
	}
	if out.Stops() != 1 {
		t.Errorf("suppressed track stopped %d times, want 1", out.Stops())
	}
	if _, _, destroyed := proc.Counts(); destroyed != 1 {
		t.Errorf("processor destroyed %d times, want 1 despite connector error", destroyed)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if a.Active() {
		t.Error("closed adapter should be inactive")
	}
}
