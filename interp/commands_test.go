package interp

import (
	"bytes"
	"testing"

	"gpibridge/config"
	"gpibridge/core"
)

func newTestSession(t *testing.T, mode config.Mode) *Session {
	t.Helper()
	pins := core.NewLoopbackAdapter()
	engine := core.NewEngine(pins)
	init, idle := core.DINI, core.DIDS
	if mode == config.ModeController {
		init, idle = core.CINI, core.CIDS
	}
	if err := engine.SetControls(init); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := engine.SetControls(idle); err != nil {
		t.Fatalf("idle: %v", err)
	}
	cfg := config.Default()
	cfg.Mode = mode
	return NewSession(engine, cfg, DefaultCommandTable())
}

func TestAddrHandlerRange(t *testing.T) {
	s := newTestSession(t, config.ModeController)

	if _, err := s.ProcessLine("++addr 0"); err == nil {
		t.Error("addr 0 should be rejected")
	}
	if _, err := s.ProcessLine("++addr 31"); err == nil {
		t.Error("addr 31 should be rejected")
	}
	if _, err := s.ProcessLine("++addr 1"); err != nil {
		t.Errorf("addr 1 should be accepted: %v", err)
	}
	if _, err := s.ProcessLine("++addr 30"); err != nil {
		t.Errorf("addr 30 should be accepted: %v", err)
	}
}

func TestEorHandlerRange(t *testing.T) {
	s := newTestSession(t, config.ModeController)

	if _, err := s.ProcessLine("++eor 8"); err == nil {
		t.Error("eor 8 should be rejected")
	}
	out, err := s.ProcessLine("++eor 7")
	if err != nil {
		t.Fatalf("eor 7 should be accepted: %v", err)
	}
	if out != "" {
		t.Errorf("eor 7 set should produce no output, got %q", out)
	}
	if s.Cfg.EORMode != 7 {
		t.Errorf("EORMode = %d, want 7", s.Cfg.EORMode)
	}
}

func TestModeHandlerEncoding(t *testing.T) {
	s := newTestSession(t, config.ModeController)

	if _, err := s.ProcessLine("++mode 2"); err == nil {
		t.Error("mode 2 should be rejected")
	}

	if _, err := s.ProcessLine("++mode 0"); err != nil {
		t.Fatalf("mode 0 (device): %v", err)
	}
	if s.Cfg.Mode != config.ModeDevice {
		t.Errorf("Cfg.Mode = %d, want ModeDevice (0)", s.Cfg.Mode)
	}
	if s.Engine.State() != core.DIDS {
		t.Errorf("engine state = %s, want DIDS", s.Engine.State())
	}

	if _, err := s.ProcessLine("++mode 1"); err != nil {
		t.Fatalf("mode 1 (controller): %v", err)
	}
	if s.Cfg.Mode != config.ModeController {
		t.Errorf("Cfg.Mode = %d, want ModeController (1)", s.Cfg.Mode)
	}
	if s.Engine.State() != core.CIDS {
		t.Errorf("engine state = %s, want CIDS", s.Engine.State())
	}
}

func TestEorSequenceTable(t *testing.T) {
	cases := []struct {
		mode uint8
		want []byte
	}{
		{0, []byte{0x0D, 0x0A}},
		{1, []byte{0x0D}},
		{2, []byte{0x0A}},
		{3, nil},
		{4, []byte{0x0A, 0x0D}},
		{5, []byte{0x03}},
		{6, []byte{0x0D, 0x0A, 0x03}},
		{7, nil},
	}
	for _, c := range cases {
		if got := eorSequence(c.mode); !bytes.Equal(got, c.want) {
			t.Errorf("eorSequence(%d) = %v, want %v", c.mode, got, c.want)
		}
	}
}

func TestReadHandlerRejectsBadEndByte(t *testing.T) {
	s := newTestSession(t, config.ModeController)
	if _, err := s.ProcessLine("++read 256"); err == nil {
		t.Error("read with an out-of-range end byte should be rejected")
	}
	if _, err := s.ProcessLine("++read banana"); err == nil {
		t.Error("read with a non-numeric, non-eoi param should be rejected")
	}
}
